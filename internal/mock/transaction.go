package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/miladsoleymani/ackmux/core"
)

// Log records transaction events in order, shared between a
// TransactionManager and its Participants.
type Log struct {
	mu     sync.Mutex
	events []string
}

func (l *Log) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

// Events returns the recorded events.
func (l *Log) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Count returns how many events start with prefix.
func (l *Log) Count(prefix string) int {
	n := 0
	for _, e := range l.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// TransactionManager is a test double for core.TransactionManager. Events
// are "begin [<topic>-<partition>]", "send <offsets>", "commit" and "rollback".
type TransactionManager struct {
	*Log

	mu        sync.Mutex
	scopes    []core.TxScope
	BeginErr  error
	SendErr   error
	CommitErr error
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{Log: &Log{}}
}

func (m *TransactionManager) Begin(_ context.Context, scope core.TxScope) (core.Transaction, error) {
	m.mu.Lock()
	m.scopes = append(m.scopes, scope)
	beginErr := m.BeginErr
	m.mu.Unlock()
	if beginErr != nil {
		return nil, beginErr
	}
	if scope.Partition < 0 {
		m.add("begin")
	} else {
		m.add("begin %s-%d", scope.Topic, scope.Partition)
	}
	return &transaction{m: m}, nil
}

// Scopes returns the scope of every Begin call.
func (m *TransactionManager) Scopes() []core.TxScope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.TxScope(nil), m.scopes...)
}

type transaction struct {
	m *TransactionManager
}

func (t *transaction) SendOffsets(_ context.Context, offsets []core.Offset, group string) error {
	t.m.mu.Lock()
	err := t.m.SendErr
	t.m.mu.Unlock()
	if err != nil {
		return err
	}
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = o.String()
	}
	t.m.add("send %s %s", group, strings.Join(parts, ","))
	return nil
}

func (t *transaction) Commit(context.Context) error {
	t.m.mu.Lock()
	err := t.m.CommitErr
	t.m.mu.Unlock()
	if err != nil {
		return err
	}
	t.m.add("commit")
	return nil
}

func (t *transaction) Rollback(context.Context) error {
	t.m.add("rollback")
	return nil
}

// Participant is a test double for core.Participant that records
// "<name> begin|commit|rollback" events in the shared Log.
type Participant struct {
	N         string
	Log       *Log
	BeginErr  error
	CommitErr error
}

func (p *Participant) Name() string { return p.N }

func (p *Participant) Begin(context.Context) (core.Synchronization, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.Log.add("%s begin", p.N)
	return &Synchronization{p: p}, nil
}

// Synchronization is returned by Participant.Begin and exposed to handlers.
type Synchronization struct {
	p *Participant
}

// Participant returns the participant that began the synchronization.
func (s *Synchronization) Participant() *Participant { return s.p }

func (s *Synchronization) Commit(context.Context) error {
	if s.p.CommitErr != nil {
		return s.p.CommitErr
	}
	s.p.Log.add("%s commit", s.p.N)
	return nil
}

func (s *Synchronization) Rollback(context.Context) error {
	s.p.Log.add("%s rollback", s.p.N)
	return nil
}
