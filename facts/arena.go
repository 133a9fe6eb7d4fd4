package facts

import "github.com/meigma/trustpolicy/datalog"

// unfold flattens v into json_* facts and returns the handle of its root.
// Every node gets a fresh handle, so identical subtrees stay distinct.
func (c *compiler) unfold(v StructuredValue) (int64, error) {
	c.handle++
	h := c.handle
	hv := datalog.Number(h)

	var err error
	switch x := v.(type) {
	case Int:
		err = c.insert(RelJSONInt, hv, datalog.Number(int64(x)))
	case Float:
		err = c.insert(RelJSONFloat, hv, datalog.Float(float64(x)))
	case Str:
		err = c.insert(RelJSONStr, hv, datalog.Symbol(string(x)))
	case Bool:
		err = c.insert(RelJSONBool, hv, datalog.Bool(bool(x)))
	case Null:
		err = c.insert(RelJSONNull, hv)
	case Object:
		for _, m := range x {
			child, cerr := c.unfold(m.Value)
			if cerr != nil {
				return 0, cerr
			}
			if err = c.insert(RelJSONObject, hv, datalog.Symbol(m.Key), datalog.Number(child)); err != nil {
				break
			}
		}
	case Array:
		for i, e := range x {
			child, cerr := c.unfold(e)
			if cerr != nil {
				return 0, cerr
			}
			if err = c.insert(RelJSONArray, hv, datalog.Number(int64(i)), datalog.Number(child)); err != nil {
				break
			}
		}
	default:
		err = schemaErr(RelJSONRoot, "unsupported document node %T", v)
	}
	if err != nil {
		return 0, err
	}
	return h, nil
}
