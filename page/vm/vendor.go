package vm

import (
	"fmt"

	"github.com/dop251/goja"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/gcbridge/bridge"
)

// jsVendor forwards calls to the goatcounter object of a page. Every call
// runs on the page's event loop.
type jsVendor struct {
	w   *Window
	obj *goja.Object
}

var _ bridge.Vendor = &jsVendor{}

func (v *jsVendor) call(method string, args ...func() goja.Value) (goja.Value, error) {
	var res goja.Value
	err := v.w.loop.Do(v.w.ctx, func() error {
		fn, ok := goja.AssertFunction(v.obj.Get(method))
		if !ok {
			return fmt.Errorf("goatcounter.%s is not a function", method)
		}
		values := make([]goja.Value, len(args))
		for i, arg := range args {
			values[i] = arg()
		}
		var err error
		res, err = fn(v.obj, values...)
		return err
	})
	return res, err
}

func (v *jsVendor) params(p bridge.Params) func() goja.Value {
	return func() goja.Value {
		return v.w.rt.ToValue(p.Map())
	}
}

func (v *jsVendor) Count(p bridge.Params) error {
	_, err := v.call("count", v.params(p))
	return err
}

func (v *jsVendor) URL(p bridge.Params) (string, error) {
	res, err := v.call("url", v.params(p))
	if err != nil {
		return "", err
	}
	return nullable(res).ValueOrZero(), nil
}

func (v *jsVendor) Filter() (null.String, error) {
	res, err := v.call("filter")
	if err != nil {
		return null.String{}, err
	}
	return nullable(res), nil
}

func (v *jsVendor) BindEvents() error {
	_, err := v.call("bind_events")
	return err
}

func (v *jsVendor) GetQuery(name string) (null.String, error) {
	res, err := v.call("get_query", func() goja.Value {
		return v.w.rt.ToValue(name)
	})
	if err != nil {
		return null.String{}, err
	}
	return nullable(res), nil
}

// nullable maps false, null and undefined to an invalid string.
func nullable(v goja.Value) null.String {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return null.String{}
	}
	if b, ok := v.Export().(bool); ok && !b {
		return null.String{}
	}
	return null.StringFrom(v.String())
}
