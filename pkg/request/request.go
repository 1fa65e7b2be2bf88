// Package request loads trampoline requests from YAML files: the signature
// to build, where its machine code comes from, and the arguments to call
// it with.
package request

import (
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/daimatz/gotramp/pkg/jit"
	"github.com/daimatz/gotramp/pkg/native"
	"github.com/daimatz/gotramp/pkg/signature"
	"github.com/daimatz/gotramp/pkg/vm"
)

// Request is one trampoline to build and call.
type Request struct {
	Name       string   `yaml:"name"`
	Return     string   `yaml:"return"`
	Params     []string `yaml:"params"`
	Convention string   `yaml:"convention"`
	Host       string   `yaml:"host"`
	Code       Code     `yaml:"code"`
	Args       []Arg    `yaml:"args"`
	// Expect is the result the call must produce, if set.
	Expect *Arg `yaml:"expect,omitempty"`
}

// Code names the machine code to call: a built-in routine, or hex bytes
// keyed by GOARCH.
type Code struct {
	Routine string            `yaml:"routine"`
	Hex     map[string]string `yaml:"hex"`
}

// Arg is a scalar argument kept in its textual form until the parameter
// type is known.
type Arg string

// UnmarshalYAML implements yaml.Unmarshaler for Arg.
func (a *Arg) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: argument must be a scalar", value.Line)
	}
	*a = Arg(value.Value)
	return nil
}

// LoadRequest loads a request from a YAML file.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a request and applies defaults.
func Parse(data []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing request file: %w", err)
	}

	// Apply defaults
	if req.Return == "" {
		req.Return = "void"
	}
	if req.Convention == "" {
		req.Convention = native.ConventionSystem.String()
	}
	if req.Host == "" {
		req.Host = vm.ObjectClassName
	}

	if req.Name == "" {
		return nil, fmt.Errorf("request: missing name")
	}
	if (req.Code.Routine == "") == (len(req.Code.Hex) == 0) {
		return nil, fmt.Errorf("request: code needs exactly one of routine or hex")
	}
	return &req, nil
}

// Signature returns the call signature of the request.
func (r *Request) Signature() (signature.CallSignature, error) {
	ret, err := signature.ParseType(r.Return)
	if err != nil {
		return signature.CallSignature{}, fmt.Errorf("return type: %w", err)
	}
	params := make([]signature.TypeTag, len(r.Params))
	for i, p := range r.Params {
		if params[i], err = signature.ParseType(p); err != nil {
			return signature.CallSignature{}, fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	return signature.New(r.Name, ret, params...), nil
}

// CallingConvention parses the convention field.
func (r *Request) CallingConvention() (native.Convention, error) {
	return native.ParseConvention(r.Convention)
}

// Bytes returns the machine code for the running architecture.
func (c Code) Bytes() ([]byte, error) {
	if c.Routine != "" {
		return jit.Routine(c.Routine)
	}
	s, ok := c.Hex[runtime.GOARCH]
	if !ok {
		return nil, fmt.Errorf("no code for %s", runtime.GOARCH)
	}
	code, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding %s code: %w", runtime.GOARCH, err)
	}
	return code, nil
}

// Arguments converts Args to the Go values the parameters of sig take.
func (r *Request) Arguments(sig signature.CallSignature) ([]any, error) {
	params := sig.ParameterTypes()
	if len(r.Args) != len(params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", sig.Name(), len(params), len(r.Args))
	}
	out := make([]any, len(params))
	for i, p := range params {
		v, err := r.Args[i].Value(p)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Value parses a as a value of type t. References are addresses; "null" is
// zero.
func (a Arg) Value(t signature.TypeTag) (any, error) {
	s := strings.TrimSpace(string(a))
	switch t.Kind() {
	case signature.KindBoolean:
		return strconv.ParseBool(s)
	case signature.KindByte:
		v, err := strconv.ParseInt(s, 0, 8)
		return int8(v), err
	case signature.KindChar:
		if r := []rune(s); len(r) == 1 && r[0] <= 0xFFFF && (r[0] < '0' || r[0] > '9') {
			return uint16(r[0]), nil
		}
		v, err := strconv.ParseUint(s, 0, 16)
		return uint16(v), err
	case signature.KindShort:
		v, err := strconv.ParseInt(s, 0, 16)
		return int16(v), err
	case signature.KindInt:
		v, err := strconv.ParseInt(s, 0, 32)
		return int32(v), err
	case signature.KindLong:
		return strconv.ParseInt(s, 0, 64)
	case signature.KindFloat:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case signature.KindDouble:
		return strconv.ParseFloat(s, 64)
	case signature.KindReference:
		if s == "null" {
			return uintptr(0), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		return uintptr(v), err
	default:
		return nil, fmt.Errorf("no values of type %s", t)
	}
}
