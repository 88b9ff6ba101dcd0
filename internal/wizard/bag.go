package wizard

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Bag is the step data shared across all steps of a wizard. Values are kept
// as raw JSON until a step decodes them into its own record type.
type Bag struct {
	values map[string]json.RawMessage
}

// NewBag creates an empty bag.
func NewBag() *Bag {
	return &Bag{values: make(map[string]json.RawMessage)}
}

// Merge shallow-merges partial into the bag. Later keys overwrite earlier ones.
func (b *Bag) Merge(partial map[string]json.RawMessage) {
	for k, v := range partial {
		b.values[k] = append(json.RawMessage(nil), v...)
	}
}

// Set encodes v and stores it under key.
func (b *Bag) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	b.values[key] = raw
	return nil
}

// Get returns the raw value stored under key.
func (b *Bag) Get(key string) (json.RawMessage, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Decode unmarshals the value under key into dst. A missing key leaves dst untouched.
func (b *Bag) Decode(key string, dst any) (bool, error) {
	raw, ok := b.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

// Lookup decodes the value under key as T.
func Lookup[T any](b *Bag, key string) (T, bool, error) {
	var out T
	ok, err := b.Decode(key, &out)
	return out, ok, err
}

// Keys returns the stored keys in sorted order.
func (b *Bag) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (b *Bag) Len() int { return len(b.values) }

// Clear removes every key. Only a wizard reset clears the bag.
func (b *Bag) Clear() {
	b.values = make(map[string]json.RawMessage)
}

// Snapshot returns a copy of the bag's contents.
func (b *Bag) Snapshot() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(b.values))
	for k, v := range b.values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// FormData is written by the basic form step.
type FormData struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

// Selection is written by the selection step.
type Selection struct {
	SelectedOption string `json:"selectedOption"`
}

// FlowNode is one node of the flow diagram step.
type FlowNode struct {
	ID       string             `json:"id"`
	Type     string             `json:"type,omitempty"`
	Position map[string]float64 `json:"position"`
	Data     map[string]any     `json:"data,omitempty"`
}

// FlowEdge connects two flow diagram nodes.
type FlowEdge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Animated bool   `json:"animated,omitempty"`
}

// Keys written by the built-in steps.
const (
	KeyName           = "name"
	KeyEmail          = "email"
	KeyDescription    = "description"
	KeySelectedOption = "selectedOption"
	KeyFlowNodes      = "flowNodes"
	KeyFlowEdges      = "flowEdges"
)

// ReviewSummary gathers what the review step shows from the bag.
type ReviewSummary struct {
	Form           FormData `json:"form"`
	SelectedOption string   `json:"selectedOption,omitempty"`
	NodeCount      int      `json:"nodeCount"`
	EdgeCount      int      `json:"edgeCount"`
}

// Review reads the form, selection and diagram records out of the bag.
func (b *Bag) Review() (ReviewSummary, error) {
	var r ReviewSummary
	for key, dst := range map[string]*string{
		KeyName:           &r.Form.Name,
		KeyEmail:          &r.Form.Email,
		KeyDescription:    &r.Form.Description,
		KeySelectedOption: &r.SelectedOption,
	} {
		if _, err := b.Decode(key, dst); err != nil {
			return ReviewSummary{}, err
		}
	}
	nodes, _, err := Lookup[[]FlowNode](b, KeyFlowNodes)
	if err != nil {
		return ReviewSummary{}, err
	}
	edges, _, err := Lookup[[]FlowEdge](b, KeyFlowEdges)
	if err != nil {
		return ReviewSummary{}, err
	}
	r.NodeCount = len(nodes)
	r.EdgeCount = len(edges)
	return r, nil
}
