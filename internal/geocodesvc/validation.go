package geocodesvc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// field returns the named value, treating an explicit null as absent.
func field(req *structpb.Struct, name string) (*structpb.Value, bool) {
	v, ok := req.GetFields()[name]
	if !ok || v == nil {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

func requiredString(req *structpb.Struct, name string) (string, error) {
	s, err := optionalString(req, name)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidRequest, name)
	}
	return s, nil
}

func optionalString(req *structpb.Struct, name string) (string, error) {
	v, ok := field(req, name)
	if !ok {
		return "", nil
	}
	s, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, name)
	}
	return s.StringValue, nil
}

func requiredNumber(req *structpb.Struct, name string) (float64, error) {
	if _, ok := field(req, name); !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, name)
	}
	return optionalNumber(req, name, 0)
}

func optionalNumber(req *structpb.Struct, name string, def float64) (float64, error) {
	v, ok := field(req, name)
	if !ok {
		return def, nil
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, name)
	}
	if math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidRequest, name)
	}
	return n.NumberValue, nil
}

func optionalBool(req *structpb.Struct, name string, def bool) (bool, error) {
	v, ok := field(req, name)
	if !ok {
		return def, nil
	}
	b, isBool := v.GetKind().(*structpb.Value_BoolValue)
	if !isBool {
		return false, fmt.Errorf("%w: %s must be a bool", ErrInvalidRequest, name)
	}
	return b.BoolValue, nil
}
