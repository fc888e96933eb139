package entity

import "maps"

// cloneValue deep-copies a decoded JSON value so callers never share the
// maps and slices held by cached data.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func (a Attributes) clone() Attributes {
	return Attributes(cloneMap(a))
}

func (t Tags) clone() Tags {
	return maps.Clone(t)
}

func (p *CertificatePolicyData) clone() *CertificatePolicyData {
	if p == nil {
		return nil
	}
	out := *p
	out.Issuer = cloneMap(p.Issuer)
	out.KeyProps = cloneMap(p.KeyProps)
	out.SecretProps = cloneMap(p.SecretProps)
	out.X509Props = cloneMap(p.X509Props)
	out.Attributes = p.Attributes.clone()
	if p.LifetimeActions != nil {
		out.LifetimeActions = make([]map[string]any, len(p.LifetimeActions))
		for i, action := range p.LifetimeActions {
			out.LifetimeActions[i] = cloneMap(action)
		}
	}
	return &out
}
