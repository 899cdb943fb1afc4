// Profiling labels. Labels let Pyroscope slice flame graphs by handler,
// sync step, or source, which is what turns "a cycle is slow" into "the
// payer normalizer in the matcher step is slow".
package telemetry

import (
	"context"
	"maps"
	"runtime/pprof"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Label keys attached to profiles.
const (
	// ProfilingLabelController is the handler name serving a request.
	ProfilingLabelController = "controller"
	// ProfilingLabelRoute is the route pattern.
	ProfilingLabelRoute = "route"
	// ProfilingLabelMethod is the HTTP method.
	ProfilingLabelMethod = "method"
	// ProfilingLabelOperation is a named application operation.
	ProfilingLabelOperation = "operation"
	// ProfilingLabelRegion marks code regions such as "db_query".
	ProfilingLabelRegion = "region"
	// ProfilingLabelStep is the sync cycle step (emails, invoices, ...).
	ProfilingLabelStep = "step"
	// ProfilingLabelSource is the upstream system a step talks to.
	ProfilingLabelSource = "source"
	// ProfilingLabelTenant is the tenant a fetch is scoped to.
	ProfilingLabelTenant = "tenant"
)

// MaxLabelValueLength caps label values to keep Pyroscope's series index
// bounded.
const MaxLabelValueLength = 128

// HighCardinalityLabels lists keys that sanitizeLabels silently drops.
// One series per NVC code or email would blow up profile storage; those
// belong on spans, not profiles.
//
// tenant is deliberately absent: the tenant list is configured and short.
var HighCardinalityLabels = map[string]bool{
	"request_id": true,
	"trace_id":   true,
	"span_id":    true,
	"nvc":        true,
	"email_id":   true,
	"payment_id": true,
}

// WithProfilingLabels runs fn with the given labels attached to any
// profile samples taken inside it. Uses pyroscope.TagWrapper, which is
// compatible with Go's native pprof label API.
//
// The labels map is copied, so callers may reuse it afterwards.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	if len(labels) == 0 {
		fn(ctx)
		return
	}

	labelsCopy := make(map[string]string, len(labels))
	maps.Copy(labelsCopy, labels)

	labelPairs := sanitizeLabels(labelsCopy)
	if len(labelPairs) == 0 {
		fn(ctx)
		return
	}

	pyroscope.TagWrapper(ctx, pyroscope.Labels(labelPairs...), fn)
}

// WithPprofLabels is the same thing via Go's native pprof API, for when
// samples should be visible to standard Go tooling rather than only the
// Pyroscope SDK. Both produce identical label behavior.
func WithPprofLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	if len(labels) == 0 {
		fn(ctx)
		return
	}

	labelsCopy := make(map[string]string, len(labels))
	maps.Copy(labelsCopy, labels)

	labelPairs := sanitizeLabels(labelsCopy)
	if len(labelPairs) == 0 {
		fn(ctx)
		return
	}

	pprofLabels := pprof.Labels(labelPairs...)
	pprof.Do(ctx, pprofLabels, fn)
}

// ProfilingScope accumulates labels before running a function under them.
type ProfilingScope struct {
	labels map[string]string
}

// NewProfilingScope creates a ProfilingScope seeded with labels.
func NewProfilingScope(labels map[string]string) *ProfilingScope {
	scope := &ProfilingScope{
		labels: make(map[string]string),
	}
	maps.Copy(scope.labels, labels)
	return scope
}

// WithLabel adds a single label to the scope.
func (s *ProfilingScope) WithLabel(key, value string) *ProfilingScope {
	s.labels[key] = value
	return s
}

// WithController adds the controller label.
func (s *ProfilingScope) WithController(controller string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelController, controller)
}

// WithRoute adds the route label.
func (s *ProfilingScope) WithRoute(route string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelRoute, route)
}

// WithMethod adds the method label.
func (s *ProfilingScope) WithMethod(method string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelMethod, method)
}

// WithOperation adds the operation label.
func (s *ProfilingScope) WithOperation(operation string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelOperation, operation)
}

// WithRegion adds the region label.
func (s *ProfilingScope) WithRegion(region string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelRegion, region)
}

// WithStep adds the sync step label.
func (s *ProfilingScope) WithStep(step string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelStep, step)
}

// WithSource adds the source label.
func (s *ProfilingScope) WithSource(source string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelSource, source)
}

// WithTenant adds the tenant label.
func (s *ProfilingScope) WithTenant(tenant string) *ProfilingScope {
	return s.WithLabel(ProfilingLabelTenant, tenant)
}

// Labels returns a copy of the current labels.
func (s *ProfilingScope) Labels() map[string]string {
	result := make(map[string]string, len(s.labels))
	maps.Copy(result, s.labels)
	return result
}

// Run executes fn with the accumulated labels.
func (s *ProfilingScope) Run(ctx context.Context, fn func(context.Context)) {
	WithProfilingLabels(ctx, s.labels, fn)
}

// sanitizeLabels validates labels before they reach Pyroscope:
// high-cardinality keys and empty pairs are dropped, long values are
// truncated, and the output order is deterministic.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	pairs := make([]string, 0, len(labels)*2)

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := labels[key]

		if key == "" || value == "" {
			continue
		}

		// Dropped silently rather than logged: this runs in hot paths.
		if HighCardinalityLabels[key] {
			continue
		}

		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}

		sanitizedKey := sanitizeLabelKey(key)
		if sanitizedKey == "" {
			continue
		}

		pairs = append(pairs, sanitizedKey, value)
	}

	return pairs
}

// sanitizeLabelKey normalizes label keys to snake_case.
func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	result := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			result = append(result, c)
		}
	}

	return string(result)
}

// HTTPRequestLabels builds the standard label set for HTTP request
// profiling.
func HTTPRequestLabels(controller, route, method string) map[string]string {
	labels := make(map[string]string, 3)

	if controller != "" {
		labels[ProfilingLabelController] = controller
	}
	if route != "" {
		labels[ProfilingLabelRoute] = route
	}
	if method != "" {
		labels[ProfilingLabelMethod] = method
	}

	return labels
}

// SyncStepLabels builds the label set for one step of a sync cycle. The
// source may be empty for steps that only touch the local store.
func SyncStepLabels(step, source string) map[string]string {
	labels := make(map[string]string, 2)

	if step != "" {
		labels[ProfilingLabelStep] = step
	}
	if source != "" {
		labels[ProfilingLabelSource] = source
	}

	return labels
}

// OperationLabels builds labels for a named application operation.
func OperationLabels(operation string, extraLabels map[string]string) map[string]string {
	labels := make(map[string]string, len(extraLabels)+1)
	labels[ProfilingLabelOperation] = operation
	maps.Copy(labels, extraLabels)

	return labels
}

// RegionLabels builds labels for a code region such as a database call.
func RegionLabels(region string, extraLabels map[string]string) map[string]string {
	labels := make(map[string]string, len(extraLabels)+1)
	labels[ProfilingLabelRegion] = region
	maps.Copy(labels, extraLabels)

	return labels
}
