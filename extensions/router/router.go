// Package router dispatches received messages to handlers by topic filter
// and message attributes.
package router

import (
	"maps"
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttclient"
)

// Handler receives a routed message.
type Handler func(msg *mqttclient.Message)

// Condition is the set of tests a message must pass to reach a handler.
type Condition struct {
	filter       string
	checks       []func(*mqttclient.Message) bool
	subscribeQoS byte
}

// ConditionOption adds a test to a Condition.
type ConditionOption func(*Condition)

func check(fn func(*mqttclient.Message) bool) ConditionOption {
	return func(c *Condition) { c.checks = append(c.checks, fn) }
}

// WithTopic matches the topic against an MQTT filter with + and # wildcards.
// The filter is also what Filters and Subscriptions report.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) { c.filter = filter }
}

// WithQoS matches the delivery QoS.
func WithQoS(qos byte) ConditionOption {
	return check(func(m *mqttclient.Message) bool { return m.QoS == qos })
}

// WithRetained matches the retain flag. Brokers set it only on messages
// replayed to a new subscription.
func WithRetained(retained bool) ConditionOption {
	return check(func(m *mqttclient.Message) bool { return m.Retain == retained })
}

// WithDuplicate matches the DUP flag of QoS 1 redeliveries.
func WithDuplicate(dup bool) ConditionOption {
	return check(func(m *mqttclient.Message) bool { return m.Dup == dup })
}

// WithTopicRegexp matches a pattern over the full topic name.
func WithTopicRegexp(pattern *regexp.Regexp) ConditionOption {
	return check(func(m *mqttclient.Message) bool { return pattern.MatchString(m.Topic) })
}

// WithPayload matches a pattern over the payload bytes.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return check(func(m *mqttclient.Message) bool { return pattern.Match(m.Payload) })
}

// WithSubscribeQoS sets the QoS Subscriptions requests for the filter. It
// does not affect matching.
func WithSubscribeQoS(qos byte) ConditionOption {
	return func(c *Condition) { c.subscribeQoS = qos }
}

func (c *Condition) matches(msg *mqttclient.Message) bool {
	if c.filter != "" && !mqttclient.TopicMatch(c.filter, msg.Topic) {
		return false
	}
	for _, ok := range c.checks {
		if !ok(msg) {
			return false
		}
	}
	return true
}

type route struct {
	handler   Handler
	condition Condition
}

// Router fans a message out to every handler whose condition it passes, in
// registration order. It is safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback Handler
}

func New() *Router {
	return &Router{}
}

// Handle registers handler behind the given conditions. No conditions
// matches every message.
//
//	r.Handle(h, WithTopic("sensors/#"), WithQoS(1))
//	r.Handle(h, WithTopic("alerts/+"), WithPayload(regexp.MustCompile(`critical`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, apply := range opts {
		apply(&cond)
	}

	r.mu.Lock()
	r.routes = append(r.routes, route{handler: handler, condition: cond})
	r.mu.Unlock()
}

// NotFound sets the handler for messages no registration matches.
// Overlapping broker subscriptions can deliver such messages.
func (r *Router) NotFound(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

// Route calls every matching handler, or the NotFound handler when none
// match. Handlers run outside the router lock.
func (r *Router) Route(msg *mqttclient.Message) {
	if msg == nil {
		return
	}

	r.mu.RLock()
	var targets []Handler
	for i := range r.routes {
		if r.routes[i].condition.matches(msg) {
			targets = append(targets, r.routes[i].handler)
		}
	}
	if len(targets) == 0 && r.fallback != nil {
		targets = append(targets, r.fallback)
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h(msg)
	}
}

// Filters returns the distinct registered topic filters in sorted order.
func (r *Router) Filters() []string {
	return slices.Sorted(maps.Keys(r.filterLevels()))
}

// filterLevels maps each registered filter to the highest QoS requested for
// it with WithSubscribeQoS.
func (r *Router) filterLevels() map[string]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	levels := make(map[string]byte, len(r.routes))
	for _, rt := range r.routes {
		if f := rt.condition.filter; f != "" {
			levels[f] = max(levels[f], rt.condition.subscribeQoS)
		}
	}
	return levels
}

// Subscriptions returns one subscription per registered topic filter,
// sorted by filter. A filter registered more than once requests the highest
// QoS given with WithSubscribeQoS.
func (r *Router) Subscriptions() []mqttclient.Subscription {
	levels := r.filterLevels()
	subs := make([]mqttclient.Subscription, 0, len(levels))
	for _, filter := range slices.Sorted(maps.Keys(levels)) {
		subs = append(subs, mqttclient.Subscription{TopicFilter: filter, QoS: levels[filter]})
	}
	return subs
}

// Len returns the number of registered handlers, not counting NotFound.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Clear drops every handler including NotFound.
func (r *Router) Clear() {
	r.mu.Lock()
	r.routes, r.fallback = nil, nil
	r.mu.Unlock()
}

// MessageHandler returns a handler for CallbackConnection.OnMessage and
// FutureConnection.OnMessage.
func (r *Router) MessageHandler() mqttclient.MessageHandler {
	return func(msg *mqttclient.Message) {
		r.Route(msg)
	}
}
