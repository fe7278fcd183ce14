package router

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

// CompleteFunctionName is the function a worker calls with the outputs of a
// finished task.
const CompleteFunctionName = "complete_task"

const completeFunctionDescription = "Send the data to complete the task. Run this once the task is complete or if there is an error. " +
	"If this is a conversation, this should just be the last message of your conversation, not a report.\n"

// OutputSchemas lists the arguments Route accepts for task, keyed by
// canonical output key in the order they are offered. channelID adds the
// conversation channel when no task output is a channel. A resource named
// by a tool reference replaces its task output entry with the tool output
// form.
func (r *Router) OutputSchemas(task Task, channelID string) (*orderedmap.OrderedMap[string, *jsonschema.Schema], error) {
	schemas := orderedmap.New[string, *jsonschema.Schema]()
	hasChannel := false
	for _, id := range task.Outputs {
		if res, ok := r.resources.GetObject(id); ok {
			schemas.Set(res.CanonicalOutputKey(), res.Schema(false))
			continue
		}
		if tr, ok := r.trackers.GetObject(id); ok {
			schemas.Set(tr.CanonicalOutputKey(), tr.Schema())
			continue
		}
		if ch, ok := r.channels.GetObject(id); ok {
			schemas.Set(ch.CanonicalOutputKey(), ch.Schema())
			hasChannel = true
		}
	}

	if channelID != "" && !hasChannel {
		if ch, ok := r.channels.GetObject(channelID); ok {
			schemas.Set(ch.CanonicalOutputKey(), ch.Schema())
		}
	}

	for _, ref := range task.Tools {
		if ref.Output == "" {
			continue
		}
		res, ok := r.resources.GetObject(ref.Output)
		if !ok {
			return nil, fmt.Errorf("router: tool %s output %s: %w", ref.ID, ref.Output, objects.ErrNotFound)
		}
		key := res.CanonicalOutputKey()
		schemas.Delete(key)
		schemas.Set(key, res.Schema(true))
	}
	return schemas, nil
}

// CompletionFunction is the function document for CompleteFunctionName,
// with every output schema of task as a required parameter.
func (r *Router) CompletionFunction(task Task, channelID string) (map[string]any, error) {
	schemas, err := r.OutputSchemas(task, channelID)
	if err != nil {
		return nil, err
	}
	params := &jsonschema.Schema{
		Type:       "object",
		Properties: schemas,
		Required:   make([]string, 0, schemas.Len()),
	}
	for pair := schemas.Oldest(); pair != nil; pair = pair.Next() {
		params.Required = append(params.Required, pair.Key)
	}

	raw, err := json.Marshal(map[string]any{
		"name":        CompleteFunctionName,
		"description": completeFunctionDescription,
		"parameters":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("router: completion function: %w", err)
	}
	var fn map[string]any
	if err := json.Unmarshal(raw, &fn); err != nil {
		return nil, fmt.Errorf("router: completion function: %w", err)
	}
	return fn, nil
}
