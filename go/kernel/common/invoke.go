package common

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/domaincorn/go/models"
	"github.com/lunixbochs/domaincorn/go/models/heap"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Methods lists the snake_case method names Invoke accepts.
func (p *Proxy[D]) Methods() []string {
	typ := reflect.TypeOf(p.Instance())
	if typ == nil {
		return nil
	}
	return methodNames(typ)
}

// Invoke calls the method registered as name on the current instance,
// converting args with the kernel's argjoy codecs. Buffer arguments move into
// the callee; buffers it returns come back owned by the kernel. A trailing error result is
// returned as err, the remaining results in order. The call is guarded.
func (p *Proxy[D]) Invoke(name string, args ...interface{}) ([]interface{}, error) {
	typ := reflect.TypeOf(p.Instance())
	if typ == nil {
		return nil, errors.Wrapf(models.EAGAIN, "domain %q is not loaded", p.name)
	}
	m, ok := methodTable(typ)[name]
	if !ok {
		return nil, errors.Wrapf(models.ENOENT, "%s has no method %q", p.name, name)
	}
	if len(args) != len(m.In) {
		return nil, errors.Wrapf(models.EINVAL, "%s.%s() takes %d arguments, got %d", p.name, name, len(m.In), len(args))
	}
	in, err := p.base.Argjoy.Convert(m.In, false, args)
	if err != nil {
		return nil, errors.Wrapf(models.EINVAL, "calling %s.%s(): %s", p.name, name, err)
	}
	if p.log.IsTrace() {
		p.log.Trace("invoke", "call", p.base.Trace(name, values(in)))
	}

	// buffers are checked before the call so a dead one is the caller's
	// fault, not a crash of the callee
	for i, v := range in {
		if buf, ok := v.Interface().(*heap.Buffer); ok && buf != nil && !buf.Live() {
			return nil, errors.Wrapf(models.EINVAL, "calling %s.%s(): argument %d is a dead buffer", p.name, name, i)
		}
	}

	var out []reflect.Value
	err = p.Guard(name, func(d D) error {
		call := make([]reflect.Value, 0, len(in)+1)
		call = append(call, reflect.ValueOf(d))
		for _, v := range in {
			if buf, ok := v.Interface().(*heap.Buffer); ok && buf != nil {
				v = reflect.ValueOf(buf.MoveTo(d.DomainID()))
			}
			call = append(call, v)
		}
		out = m.Method.Func.Call(call)
		for i, v := range out {
			if buf, ok := v.Interface().(*heap.Buffer); ok && buf != nil && buf.Live() && buf.Owner() == d.DomainID() {
				out[i] = reflect.ValueOf(buf.MoveTo(models.KernelIdentity))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ret := values(out)
	if n := len(m.Out); n > 0 && m.Out[n-1] == errorType {
		ret = ret[:n-1]
		if e, _ := out[n-1].Interface().(error); e != nil {
			return ret, e
		}
	}
	return ret, nil
}

func values(vs []reflect.Value) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v.Interface()
	}
	return out
}

// TraceArg renders one call argument or result for logs.
func (k *KernelBase) TraceArg(arg interface{}) string {
	hex := func(a interface{}) string {
		tmp := fmt.Sprintf("0x%x", a)
		if strings.HasPrefix(tmp, "0x-") {
			tmp = "-0x" + tmp[3:]
		}
		return tmp
	}
	switch v := arg.(type) {
	case *heap.Buffer:
		if v == nil || !v.Live() {
			return "<dead buffer>"
		}
		return models.Repr(v.AsSlice(), k.Strsize)
	case []byte:
		return models.Repr(v, k.Strsize)
	case string:
		return models.Repr([]byte(v), k.Strsize)
	case uint64:
		return hex(v)
	case models.Identity:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", arg)
	}
}

// Trace renders a call as name(arg, ...).
func (k *KernelBase) Trace(name string, args []interface{}) string {
	s := make([]string, len(args))
	for i, arg := range args {
		s[i] = k.TraceArg(arg)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(s, ", "))
}

// TraceRet renders results as " = a, b", or "" when there are none.
func (k *KernelBase) TraceRet(out []interface{}) string {
	if len(out) == 0 {
		return ""
	}
	s := make([]string, len(out))
	for i, v := range out {
		s[i] = k.TraceArg(v)
	}
	return " = " + strings.Join(s, ", ")
}
