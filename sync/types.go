package sync

import (
	"regexp"
	"sync"
)

// ResendAddressing is what a processor's Resend hook may add to a
// pending action's meta (spec.md §4.1 step 3).
type ResendAddressing struct {
	Nodes    []string
	Clients  []string
	Users    []string
	Channels []string
}

// Processor is bound to an action type (spec.md §4.2, glossary
// "Processor"). Access is mandatory; Resend, Process, and Finally are
// optional.
type Processor struct {
	Access  func(ctx *Context, action Action, meta *Meta) (bool, error)
	Resend  func(ctx *Context, action Action, meta *Meta) (*ResendAddressing, error)
	Process func(ctx *Context, action Action, meta *Meta) error
	Finally func(ctx *Context, action Action, meta *Meta)
}

type regexProcessor struct {
	re        *regexp.Regexp
	processor *Processor
}

// TypeTable resolves an action's processor: exact type -> first matching
// regex -> fallback ("other") -> none (spec.md §4.2).
type TypeTable struct {
	mu    sync.RWMutex
	exact map[string]*Processor
	regex []regexProcessor
	other *Processor
}

func NewTypeTable() *TypeTable {
	return &TypeTable{exact: map[string]*Processor{}}
}

// Type registers an exact-match processor. Registering the same type
// twice is a programming error and panics, matching the teacher's
// convention of failing fast on caller misuse of registration APIs
// (connect/transfer.go's addReceiveCallback/removeReceiveCallback pairs
// assume well-formed call sequences the same way).
func (self *TypeTable) Type(actionType string, processor *Processor) {
	if processor.Access == nil {
		panic("processor for type " + actionType + " must define Access")
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	if _, exists := self.exact[actionType]; exists {
		panic("type " + actionType + " is already registered")
	}
	self.exact[actionType] = processor
}

func (self *TypeTable) TypeRegex(re *regexp.Regexp, processor *Processor) {
	if processor.Access == nil {
		panic("regex processor must define Access")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.regex = append(self.regex, regexProcessor{re: re, processor: processor})
}

func (self *TypeTable) OtherType(processor *Processor) {
	if processor.Access == nil {
		panic("other type processor must define Access")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.other = processor
}

// Lookup resolves the processor for actionType in registration order:
// exact -> first matching regex -> fallback.
func (self *TypeTable) Lookup(actionType string) *Processor {
	self.mu.RLock()
	defer self.mu.RUnlock()

	if p, ok := self.exact[actionType]; ok {
		return p
	}
	for _, rp := range self.regex {
		if rp.re.MatchString(actionType) {
			return rp.processor
		}
	}
	return self.other
}
