package workload

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"yqhp/load-engine/pkg/types"
)

// CheckConfig describes one response check. Exactly one condition is used, in the
// order status, max_duration, jsonpath, body_contains, script.
type CheckConfig struct {
	Name         string        `yaml:"name" json:"name"`
	Status       int           `yaml:"status,omitempty" json:"status,omitempty"`
	MaxDuration  time.Duration `yaml:"max_duration,omitempty" json:"max_duration,omitempty"`
	JSONPath     string        `yaml:"jsonpath,omitempty" json:"jsonpath,omitempty"`
	Equals       string        `yaml:"equals,omitempty" json:"equals,omitempty"`
	BodyContains string        `yaml:"body_contains,omitempty" json:"body_contains,omitempty"`
	Script       string        `yaml:"script,omitempty" json:"script,omitempty"`
}

// Response is the view of a finished request that checks run against.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Timings types.Timings

	jsonOnce sync.Once
	json     any
	jsonErr  error
}

// JSON parses the body once and caches the result.
func (r *Response) JSON() (any, error) {
	r.jsonOnce.Do(func() {
		r.json, r.jsonErr = oj.Parse(r.Body)
	})
	return r.json, r.jsonErr
}

// Check is a compiled CheckConfig.
type Check interface {
	Name() string
	Run(ctx context.Context, resp *Response) types.CheckResult
}

// CompileCheck validates a check definition and prepares it for concurrent use.
func CompileCheck(cfg CheckConfig) (Check, error) {
	switch {
	case cfg.Status != 0:
		return &statusCheck{name: nameOr(cfg.Name, fmt.Sprintf("status is %d", cfg.Status)), status: cfg.Status}, nil
	case cfg.MaxDuration > 0:
		return &durationCheck{name: nameOr(cfg.Name, fmt.Sprintf("response time < %s", cfg.MaxDuration)), max: cfg.MaxDuration}, nil
	case cfg.JSONPath != "":
		path, err := jp.ParseString(cfg.JSONPath)
		if err != nil {
			return nil, fmt.Errorf("check %q: invalid jsonpath %q: %w", cfg.Name, cfg.JSONPath, err)
		}
		return &jsonPathCheck{name: nameOr(cfg.Name, "jsonpath "+cfg.JSONPath), path: path, equals: cfg.Equals}, nil
	case cfg.BodyContains != "":
		return &containsCheck{name: nameOr(cfg.Name, "body contains "+cfg.BodyContains), needle: []byte(cfg.BodyContains)}, nil
	case cfg.Script != "":
		prog, err := goja.Compile(cfg.Name, "(function(r){ return ("+cfg.Script+"); })", true)
		if err != nil {
			return nil, fmt.Errorf("check %q: invalid script: %w", cfg.Name, err)
		}
		return newScriptCheck(nameOr(cfg.Name, "script"), prog), nil
	}
	return nil, fmt.Errorf("check %q: %w", cfg.Name, ErrEmptyCheck)
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

type statusCheck struct {
	name   string
	status int
}

func (c *statusCheck) Name() string { return c.name }

func (c *statusCheck) Run(_ context.Context, resp *Response) types.CheckResult {
	return types.CheckResult{Name: c.name, Passed: resp.Status == c.status}
}

type durationCheck struct {
	name string
	max  time.Duration
}

func (c *durationCheck) Name() string { return c.name }

func (c *durationCheck) Run(_ context.Context, resp *Response) types.CheckResult {
	return types.CheckResult{Name: c.name, Passed: resp.Timings.Duration < c.max}
}

type jsonPathCheck struct {
	name   string
	path   jp.Expr
	equals string
}

func (c *jsonPathCheck) Name() string { return c.name }

func (c *jsonPathCheck) Run(_ context.Context, resp *Response) types.CheckResult {
	res := types.CheckResult{Name: c.name}
	data, err := resp.JSON()
	if err != nil {
		res.Error = "body is not valid JSON: " + err.Error()
		return res
	}

	found := c.path.Get(data)
	if len(found) == 0 {
		return res
	}
	if c.equals == "" {
		res.Passed = true
		return res
	}
	res.Passed = fmt.Sprint(found[0]) == c.equals
	return res
}

type containsCheck struct {
	name   string
	needle []byte
}

func (c *containsCheck) Name() string { return c.name }

func (c *containsCheck) Run(_ context.Context, resp *Response) types.CheckResult {
	return types.CheckResult{Name: c.name, Passed: bytes.Contains(resp.Body, c.needle)}
}

// scriptCheck runs a JavaScript expression with the response bound to r.
// goja runtimes are not goroutine safe, so each VU borrows one from a pool.
type scriptCheck struct {
	name string
	prog *goja.Program
	vms  sync.Pool
}

type scriptVM struct {
	rt *goja.Runtime
	fn goja.Callable
}

func newScriptCheck(name string, prog *goja.Program) *scriptCheck {
	c := &scriptCheck{name: name, prog: prog}
	c.vms.New = func() any {
		rt := goja.New()
		rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
		v, err := rt.RunProgram(prog)
		if err != nil {
			return err
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return fmt.Errorf("script did not compile to a function")
		}
		return &scriptVM{rt: rt, fn: fn}
	}
	return c
}

func (c *scriptCheck) Name() string { return c.name }

func (c *scriptCheck) Run(ctx context.Context, resp *Response) (res types.CheckResult) {
	res.Name = c.name

	got := c.vms.Get()
	vm, ok := got.(*scriptVM)
	if !ok {
		res.Error = fmt.Sprint(got)
		return res
	}
	defer func() {
		vm.rt.ClearInterrupt()
		c.vms.Put(vm)
	}()

	stop := context.AfterFunc(ctx, func() { vm.rt.Interrupt("check interrupted") })
	defer stop()

	r := vm.rt.NewObject()
	_ = r.Set("status", resp.Status)
	_ = r.Set("body", string(resp.Body))
	_ = r.Set("headers", resp.Headers)
	_ = r.Set("timings", map[string]float64{
		"blocked":         ms(resp.Timings.Blocked),
		"connecting":      ms(resp.Timings.Connecting),
		"tls_handshaking": ms(resp.Timings.TLSHandshaking),
		"sending":         ms(resp.Timings.Sending),
		"waiting":         ms(resp.Timings.Waiting),
		"receiving":       ms(resp.Timings.Receiving),
		"duration":        ms(resp.Timings.Duration),
	})
	_ = r.Set("json", func(goja.FunctionCall) goja.Value {
		data, err := resp.JSON()
		if err != nil {
			panic(vm.rt.NewGoError(err))
		}
		return vm.rt.ToValue(data)
	})

	v, err := vm.fn(goja.Undefined(), r)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Passed = v.ToBoolean()
	return res
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
