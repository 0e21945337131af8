// Package pubsub implements a local, hierarchical publish/subscribe
// topic tree with retained values. Grounded on
// pyembc/stream/pubsub.py from original_source/: topic strings split
// on '/', subscribers registered at any node see publishes to that
// node and all descendants, and a retained publish that repeats the
// stored value is suppressed rather than re-delivered.
package pubsub

import (
	"reflect"
	"sort"
	"strings"

	"embedlink/ecode"
)

// Callback receives a published value. subscribe's src_cbk exclusion
// uses the callback's identity — compare with the *same* function
// value originally passed to Subscribe, not a newly created closure.
type Callback func(topic string, value any, retain bool)

// Meta describes a topic's type, defaults, and constraints — an open
// JSON-like bag, consumed by Create and exposed verbatim to readers
// (for example Port0's published `h/port/0/meta` aggregate).
type Meta map[string]any

// AsBool coerces the handful of truthy/falsy spellings Meta values
// use in practice ("enabled", 1, true, ...), mirroring pyembc's
// _as_bool. Unrecognized values are treated as false.
func AsBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case uint32:
		return x != 0
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(x) {
		case "1", "yes", "on", "enable", "enabled", "true", "active":
			return true
		default:
			return false
		}
	default:
		return false
	}
}

type subscription struct {
	cbk Callback
}

type topic struct {
	name     string
	parent   *topic
	children map[string]*topic
	subs     []subscription
	value    any
	hasValue bool
	meta     Meta
}

func newTopic(parent *topic, name string) *topic {
	return &topic{name: name, parent: parent, children: make(map[string]*topic)}
}

func (t *topic) publish(value any, retain bool, srcCbk Callback) {
	if retain {
		if t.hasValue && equalValues(t.value, value) {
			return
		}
		t.value = value
		t.hasValue = true
	}
	for n := t; n != nil; n = n.parent {
		for _, s := range n.subs {
			if isSameCallback(s.cbk, srcCbk) {
				continue
			}
			s.cbk(t.name, value, retain)
		}
	}
}

func (t *topic) replayRetained(cbk Callback) {
	if t.hasValue {
		cbk(t.name, t.value, true)
	}
	names := make([]string, 0, len(t.children))
	for name := range t.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.children[name].replayRetained(cbk)
	}
}

func (t *topic) subscribe(cbk Callback, skipRetained bool) {
	for _, s := range t.subs {
		if isSameCallback(s.cbk, cbk) {
			return
		}
	}
	t.subs = append(t.subs, subscription{cbk: cbk})
	if !skipRetained {
		t.replayRetained(cbk)
	}
}

func (t *topic) unsubscribe(cbk Callback) {
	for i, s := range t.subs {
		if isSameCallback(s.cbk, cbk) {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// PubSub is a trivial, local publish/subscribe tree: retained values,
// de-duplication of repeated retained publishes, and publisher
// exclusion on publish.
type PubSub struct {
	root *topic
}

// New returns an empty topic tree.
func New() *PubSub {
	return &PubSub{root: newTopic(nil, "")}
}

func (p *PubSub) find(name string, create bool) *topic {
	t := p.root
	if name == "" {
		return t
	}
	built := make([]string, 0, strings.Count(name, "/")+1)
	for _, part := range strings.Split(name, "/") {
		built = append(built, part)
		child, ok := t.children[part]
		if !ok {
			if !create {
				return nil
			}
			child = newTopic(t, strings.Join(built, "/"))
			t.children[part] = child
		}
		t = child
	}
	return t
}

// Publish delivers value to every subscriber of topic and its
// ancestors (except srcCbk, which may be nil). When retain is true
// the value is stored and a repeat of the same value is suppressed.
func (p *PubSub) Publish(topicName string, value any, retain bool, srcCbk Callback) error {
	if topicName == "" {
		return ecode.New(ecode.ParameterInvalid, "empty topic not allowed")
	}
	t := p.find(topicName, true)
	t.publish(value, retain, srcCbk)
	return nil
}

// Get returns the retained value for topic, or ecode.NotFound if the
// topic doesn't exist or has never been retained.
func (p *PubSub) Get(topicName string) (any, error) {
	t := p.find(topicName, false)
	if t == nil || !t.hasValue {
		return nil, ecode.New(ecode.NotFound, "topic %q does not exist", topicName)
	}
	return t.value, nil
}

// Subscribe registers cbk on topic. Unless skipRetained, every
// retained value in the subtree rooted at topic is replayed to cbk
// depth-first, immediately and synchronously.
func (p *PubSub) Subscribe(topicName string, cbk Callback, skipRetained bool) {
	t := p.find(topicName, true)
	t.subscribe(cbk, skipRetained)
}

// Unsubscribe removes cbk from topic, if present.
func (p *PubSub) Unsubscribe(topicName string, cbk Callback) {
	t := p.find(topicName, true)
	t.unsubscribe(cbk)
}

// Meta attaches or replaces metadata on topic, creating it if absent.
func (p *PubSub) Meta(topicName string, meta Meta) {
	t := p.find(topicName, true)
	t.meta = meta
}

// GetMeta returns the metadata attached to topic, if any.
func (p *PubSub) GetMeta(topicName string) (Meta, bool) {
	t := p.find(topicName, false)
	if t == nil {
		return nil, false
	}
	return t.meta, t.meta != nil
}

// Create attaches meta to a new topic, publishes meta's default value
// (honouring meta["retain"]) and subscribes subscriberCbk, all before
// returning. It fails with ecode.AlreadyExists if the topic exists.
func (p *PubSub) Create(topicName string, meta Meta, subscriberCbk Callback) error {
	if existing := p.find(topicName, false); existing != nil {
		return ecode.New(ecode.AlreadyExists, "topic %q already exists", topicName)
	}
	t := p.find(topicName, true)
	t.meta = meta
	if meta != nil {
		if def, ok := meta["default"]; ok {
			retain := AsBool(meta["retain"])
			t.publish(def, retain, subscriberCbk)
		}
	}
	if subscriberCbk != nil {
		t.subscribe(subscriberCbk, false)
	}
	return nil
}

func isSameCallback(a, b Callback) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
