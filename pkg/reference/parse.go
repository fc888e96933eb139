package reference

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Properties is the key/value form of a reference, as found inside
// @Microsoft.KeyVault(...) or in configuration maps.
type Properties map[string]string

// Property names shared by all kinds.
const (
	PropertyVaultName = "VaultName"
)

var referenceStringPattern = regexp.MustCompile(`^\s*@Microsoft\.KeyVault\((.+)\)\s*;?\s*$`)

// IsReferenceString reports whether s is a typed reference string such as
// "@Microsoft.KeyVault(SecretUri=...)". Anything else is a literal value.
func IsReferenceString(s string) bool {
	return referenceStringPattern.MatchString(s)
}

// ParseReferenceString extracts the properties of a typed reference string.
// Pairs without "=" are dropped. ok is false when s is not a typed reference.
func ParseReferenceString(s string) (props Properties, ok bool) {
	m := referenceStringPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	props = Properties{}
	for _, pair := range strings.Split(m[1], ";") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, true
}

// Parse normalizes any supported input into a Reference. Supported inputs are
// entity URI strings, typed reference strings, *url.URL, url.URL, Properties,
// map[string]string, map[string]any, Reference and *Reference.
func Parse(v any) (Reference, error) {
	switch in := v.(type) {
	case Reference:
		if in.IsZero() {
			return Reference{}, &Error{Op: "parse", Reason: ErrMalformed, Detail: "empty reference"}
		}
		return in, nil
	case *Reference:
		if in == nil {
			return Reference{}, &Error{Op: "parse", Reason: ErrMalformed, Detail: "nil reference"}
		}
		return Parse(*in)
	case string:
		return FromString(in)
	case *url.URL:
		return FromURL(in)
	case url.URL:
		return FromURL(&in)
	case Properties:
		return FromProperties(in)
	case map[string]string:
		return FromProperties(Properties(in))
	case map[string]any:
		props, err := propertiesFromAny(in)
		if err != nil {
			return Reference{}, err
		}
		return FromProperties(props)
	default:
		return Reference{}, &Error{Op: "parse", Input: fmt.Sprintf("%T", v), Reason: ErrUnsupportedInput}
	}
}

// ParseAs normalizes v and re-derives the result as the requested kind when
// it points at a different kind of entity.
func ParseAs(kind Kind, v any) (Reference, error) {
	if _, ok := kinds[kind]; !ok {
		return Reference{}, &Error{Op: "parse", Reason: ErrUnknownEntity, Detail: kind.String()}
	}

	var props Properties
	switch in := v.(type) {
	case string:
		if p, ok := ParseReferenceString(in); ok {
			props = p
		}
	case Properties:
		props = in
	case map[string]string:
		props = Properties(in)
	case map[string]any:
		p, err := propertiesFromAny(in)
		if err != nil {
			return Reference{}, err
		}
		props = p
	}
	if props != nil {
		if ref, ok, err := fromKindProperties(kind, props); ok || err != nil {
			return ref, err
		}
	}

	ref, err := Parse(v)
	if err != nil {
		return Reference{}, err
	}
	return ref.Convert(kind)
}

// FromString parses a typed reference string or, failing that, an entity URI.
func FromString(s string) (Reference, error) {
	if props, ok := ParseReferenceString(s); ok {
		return FromProperties(props)
	}
	return FromURI(s)
}

// FromURI parses an entity URI. The kind is taken from the first non-empty
// path segment.
func FromURI(raw string) (Reference, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Reference{}, &Error{Op: "uri", Input: raw, Reason: ErrMalformed, Detail: err.Error()}
	}
	return FromURL(u)
}

// FromURL builds a Reference from a parsed entity URL.
func FromURL(u *url.URL) (Reference, error) {
	if u == nil {
		return Reference{}, &Error{Op: "uri", Reason: ErrMalformed, Detail: "nil URL"}
	}
	segment := firstSegment(u.Path)
	kind, ok := KindFromSegment(segment)
	if !ok {
		return Reference{}, &Error{
			Op:     "uri",
			Input:  u.String(),
			Reason: ErrUnknownEntity,
			Detail: fmt.Sprintf("unknown entity at path '%s'", segment),
		}
	}
	return New(kind, u)
}

// FromProperties builds a Reference from its key/value form. The kind is
// chosen by the first of Secret, Key, Certificate whose Uri or Name field is
// present.
func FromProperties(props Properties) (Reference, error) {
	for _, kind := range []Kind{KindSecret, KindKey, KindCertificate} {
		f := kinds[kind]
		_, hasURI := props[f.uriField]
		_, hasName := props[f.nameField]
		if hasURI || hasName {
			ref, _, err := fromKindProperties(kind, props)
			return ref, err
		}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, "'"+k+"'")
	}
	slices.Sort(keys)
	return Reference{}, &Error{
		Op:     "properties",
		Reason: ErrUnrecognizedProperties,
		Detail: "could not construct reference from " + strings.Join(keys, ", "),
	}
}

// FromName builds the reference https://{vault}.vault.azure.net/{kind}/{name}/{version}.
func FromName(kind Kind, vaultName, name, version string) (Reference, error) {
	if vaultName == "" {
		return Reference{}, &Error{Op: "name", Reason: ErrMalformed, Detail: "missing " + PropertyVaultName}
	}
	if name == "" {
		return Reference{}, &Error{Op: "name", Reason: ErrMalformed, Detail: "missing " + kinds[kind].nameField}
	}
	return New(kind, &url.URL{
		Scheme: "https",
		Host:   vaultName + "." + DefaultVaultDomain,
		Path:   entityPath(kind, name, version),
	})
}

// fromKindProperties reads the kind-specific fields of props. ok is false
// when neither the Uri nor the Name field of the kind is present.
func fromKindProperties(kind Kind, props Properties) (ref Reference, ok bool, err error) {
	f := kinds[kind]
	if raw, found := props[f.uriField]; found {
		ref, err = FromURI(raw)
		if err != nil {
			return Reference{}, true, err
		}
		ref, err = ref.Convert(kind)
		return ref, true, err
	}
	name, found := props[f.nameField]
	if !found {
		return Reference{}, false, nil
	}
	ref, err = FromName(kind, props[PropertyVaultName], name, props[f.versionKey])
	return ref, true, err
}

func propertiesFromAny(in map[string]any) (Properties, error) {
	props := make(Properties, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			props[k] = val
		case nil:
		case fmt.Stringer:
			props[k] = val.String()
		default:
			return nil, &Error{
				Op:     "properties",
				Reason: ErrMalformed,
				Detail: fmt.Sprintf("property %s has non-string value of type %T", k, v),
			}
		}
	}
	return props, nil
}

func firstSegment(path string) string {
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			return part
		}
	}
	return "unknown"
}
