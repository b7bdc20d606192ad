package pmode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/openas4/msh/pkg/message"
)

var ErrNotFound = errors.New("pmode: not found")

// Registry holds the configured processing modes and resolves them for
// submitted and received messages. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	sending   map[string]*SendingProcessingMode
	receiving map[string]*ReceivingProcessingMode
}

func NewRegistry() *Registry {
	return &Registry{
		sending:   make(map[string]*SendingProcessingMode),
		receiving: make(map[string]*ReceivingProcessingMode),
	}
}

// AddSending validates and registers a sending pmode, replacing any
// previous pmode with the same id.
func (r *Registry) AddSending(p *SendingProcessingMode) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.sending[p.ID] = p
	r.mu.Unlock()
	return nil
}

// AddReceiving validates and registers a receiving pmode.
func (r *Registry) AddReceiving(p *ReceivingProcessingMode) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.receiving[p.ID] = p
	r.mu.Unlock()
	return nil
}

// Sending returns the sending pmode with the given id.
func (r *Registry) Sending(id string) (*SendingProcessingMode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sending[id]
	if !ok {
		return nil, fmt.Errorf("%w: sending pmode %s", ErrNotFound, id)
	}
	return p, nil
}

// Receiving returns the receiving pmode with the given id.
func (r *Registry) Receiving(id string) (*ReceivingProcessingMode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.receiving[id]
	if !ok {
		return nil, fmt.Errorf("%w: receiving pmode %s", ErrNotFound, id)
	}
	return p, nil
}

// MatchReceiving resolves a receiving pmode for an incoming user message.
// An explicit pmode id in the agreement reference wins, otherwise the
// first pmode whose party and collaboration info match is used.
func (r *Registry) MatchReceiving(um *message.UserMessage) (*ReceivingProcessingMode, error) {
	if um == nil || um.PartyInfo == nil || um.CollaborationInfo == nil {
		return nil, fmt.Errorf("%w: incomplete user message", ErrNotFound)
	}
	if ref := um.CollaborationInfo.AgreementRef; ref != nil && ref.Pmode != "" {
		return r.Receiving(ref.Pmode)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var fallback *ReceivingProcessingMode
	for _, p := range r.receiving {
		if matchParty(p.PartyInfo.FromParty, um.PartyInfo.From) &&
			matchParty(p.PartyInfo.ToParty, um.PartyInfo.To) &&
			matchService(p.CollaborationInfo.Service, &um.CollaborationInfo.Service) &&
			(p.CollaborationInfo.Action == "" || p.CollaborationInfo.Action == um.CollaborationInfo.Action) {
			return p, nil
		}
		if fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: no receiving pmode matches message %s", ErrNotFound, um.MessageID())
}

func matchParty(want, got *message.Party) bool {
	if want == nil {
		return true
	}
	return want.Equal(got)
}

func matchService(want, got *message.Service) bool {
	if want == nil {
		return true
	}
	return want.Equal(got)
}

// LoadDirectory reads every *.yaml file under dir as a pmode document.
// Files declaring a push_configuration or pull_configuration load as
// sending pmodes, everything else as receiving pmodes.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("pmode: reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("pmode: reading %s: %w", path, err)
		}
		if err := r.LoadDocument(data); err != nil {
			return fmt.Errorf("pmode: %s: %w", path, err)
		}
	}
	return nil
}

// LoadDocument parses a single yaml pmode document and registers it.
func (r *Registry) LoadDocument(data []byte) error {
	var sniff struct {
		PushConfiguration *struct{} `yaml:"push_configuration"`
		PullConfiguration *struct{} `yaml:"pull_configuration"`
	}
	if err := yaml.Unmarshal(data, &sniff); err != nil {
		return err
	}
	if sniff.PushConfiguration != nil || sniff.PullConfiguration != nil {
		var p SendingProcessingMode
		if err := yaml.Unmarshal(data, &p); err != nil {
			return err
		}
		return r.AddSending(&p)
	}
	var p ReceivingProcessingMode
	if err := yaml.Unmarshal(data, &p); err != nil {
		return err
	}
	return r.AddReceiving(&p)
}
