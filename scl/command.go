package scl

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/bapsf-motion/go-scl/logger"
)

// Encoder renders a command argument into its wire form. The returned string
// is concatenated with the command mnemonic.
type Encoder func(arg any) (string, error)

// Decoder parses the captured payload of a reply into a typed value
// (int64, float64 or string).
type Decoder func(s string) (any, error)

// CommandSpec describes a single entry of the command vocabulary. Specs are
// immutable after registry construction.
type CommandSpec struct {
	// Name is the registry name of the command (e.g. "speed").
	Name string
	// Mnemonic is the two-letter wire command (e.g. "VE"). Empty for compound
	// operations.
	Mnemonic string
	// Encode renders the command argument. Nil means the command takes no
	// argument on the wire.
	Encode Encoder
	// Pattern matches a data reply. It must declare a (?P<value>...) capture
	// group. Nil means the command returns no data payload.
	Pattern *regexp.Regexp
	// Decode parses the captured payload. Nil leaves the payload as a string.
	Decode Decoder
	// Unit tags decoded values with their motor-native unit.
	Unit Unit
	// GetterSetter marks commands that both read and write a drive register:
	// invoked without arguments they act as a read.
	GetterSetter bool
	// Compound marks operations that are built from several primitive
	// commands and never hit the wire themselves.
	Compound bool
}

// HasPattern reports whether the command expects a data payload in its reply.
func (spec *CommandSpec) HasPattern() bool { return spec.Pattern != nil }

func encodeFloat(prec int) Encoder {
	return func(arg any) (string, error) {
		v, err := toFloat(arg)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'f', prec, 64), nil
	}
}

func encodeInt(arg any) (string, error) {
	v, err := toFloat(arg)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(v), 10), nil
}

// encodeSoftStop renders the optional soft flag of the stop command: a soft
// stop decelerates ("SKD"), a hard stop kills immediately ("SK").
func encodeSoftStop(arg any) (string, error) {
	soft, ok := arg.(bool)
	if !ok {
		return "", fmt.Errorf("expected bool argument, got %T", arg)
	}
	if soft {
		return "D", nil
	}
	return "", nil
}

func decodeFloat(s string) (any, error) {
	return strconv.ParseFloat(s, 64)
}

func decodeInt(s string) (any, error) {
	return strconv.ParseInt(s, 10, 64)
}

func toFloat(arg any) (float64, error) {
	switch v := arg.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected numeric argument, got %T", arg)
	}
}

// registry is the process-wide command table. It is built once at package
// initialization and never mutated afterwards; actors share it by reference.
var registry = buildRegistry()

func buildRegistry() map[string]*CommandSpec {
	specs := []*CommandSpec{
		{
			Name:         "acceleration",
			Mnemonic:     "AC",
			Encode:       encodeFloat(3),
			Pattern:      regexp.MustCompile(`^AC=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			Unit:         UnitRevPerSecSq,
			GetterSetter: true,
		},
		{
			Name:     "alarm",
			Mnemonic: "AL",
			Pattern:  regexp.MustCompile(`^AL=(?P<value>[0-9]{4})$`),
		},
		{
			Name:     "alarm_reset",
			Mnemonic: "AR",
		},
		{
			Name:     "buffer_size",
			Mnemonic: "BS",
			Pattern:  regexp.MustCompile(`^BS=(?P<value>[0-9]+)$`),
			Decode:   decodeInt,
		},
		{
			Name:     "commence_jogging",
			Mnemonic: "CJ",
		},
		{
			Name:         "current",
			Mnemonic:     "CC",
			Encode:       encodeFloat(1),
			Pattern:      regexp.MustCompile(`^CC=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			GetterSetter: true,
		},
		{
			Name:         "deceleration",
			Mnemonic:     "DE",
			Encode:       encodeFloat(3),
			Pattern:      regexp.MustCompile(`^DE=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			Unit:         UnitRevPerSecSq,
			GetterSetter: true,
		},
		{
			Name:         "define_limits",
			Mnemonic:     "DL",
			Encode:       encodeInt,
			Pattern:      regexp.MustCompile(`^DL=(?P<value>[0-9])$`),
			Decode:       decodeInt,
			GetterSetter: true,
		},
		{
			Name:     "disable",
			Mnemonic: "MD",
		},
		{
			Name:     "enable",
			Mnemonic: "ME",
		},
		{
			Name:         "encoder_position",
			Mnemonic:     "EP",
			Encode:       encodeInt,
			Pattern:      regexp.MustCompile(`^EP=(?P<value>-?[0-9]+)$`),
			Decode:       decodeInt,
			Unit:         UnitCounts,
			GetterSetter: true,
		},
		{
			Name:     "encoder_resolution",
			Mnemonic: "ER",
			Pattern:  regexp.MustCompile(`^ER=(?P<value>[0-9]+)$`),
			Decode:   decodeInt,
			Unit:     UnitCountsPerRev,
		},
		{
			Name:     "feed",
			Mnemonic: "FP",
		},
		{
			Name:     "gearing",
			Mnemonic: "EG",
			Pattern:  regexp.MustCompile(`^EG=(?P<value>[0-9]+)$`),
			Decode:   decodeInt,
			Unit:     UnitStepsPerRev,
		},
		{
			Name:     "get_position",
			Mnemonic: "IP",
			Pattern:  regexp.MustCompile(`^IP=(?P<value>-?[0-9]+)$`),
			Decode:   decodeInt,
			Unit:     UnitSteps,
		},
		{
			Name:         "idle_current",
			Mnemonic:     "CI",
			Encode:       encodeFloat(1),
			Pattern:      regexp.MustCompile(`^CI=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			GetterSetter: true,
		},
		{
			Name:         "jog_acceleration",
			Mnemonic:     "JA",
			Encode:       encodeFloat(3),
			Pattern:      regexp.MustCompile(`^JA=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			Unit:         UnitRevPerSecSq,
			GetterSetter: true,
		},
		{
			Name:         "jog_deceleration",
			Mnemonic:     "JL",
			Encode:       encodeFloat(3),
			Pattern:      regexp.MustCompile(`^JL=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			Unit:         UnitRevPerSecSq,
			GetterSetter: true,
		},
		{
			Name:         "jog_speed",
			Mnemonic:     "JS",
			Encode:       encodeFloat(4),
			Pattern:      regexp.MustCompile(`^JS=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			Unit:         UnitRevPerSec,
			GetterSetter: true,
		},
		{
			// immediately stop moving and erase the command queue
			Name:     "kill",
			Mnemonic: "SK",
		},
		{
			Name:         "protocol",
			Mnemonic:     "PR",
			Encode:       encodeInt,
			Pattern:      regexp.MustCompile(`^PR=(?P<value>[0-9]{1,9})$`),
			Decode:       decodeInt,
			GetterSetter: true,
		},
		{
			Name:     "request_status",
			Mnemonic: "RS",
			Pattern:  regexp.MustCompile(`^RS=(?P<value>[ADEFHJMPRSTW]+)$`),
		},
		{
			Name:         "set_position_SP",
			Mnemonic:     "SP",
			Encode:       encodeInt,
			Pattern:      regexp.MustCompile(`^SP=(?P<value>-?[0-9]+)$`),
			Decode:       decodeInt,
			Unit:         UnitSteps,
			GetterSetter: true,
		},
		{
			Name:         "speed",
			Mnemonic:     "VE",
			Encode:       encodeFloat(4),
			Pattern:      regexp.MustCompile(`^VE=(?P<value>[0-9]+\.?[0-9]*)$`),
			Decode:       decodeFloat,
			Unit:         UnitRevPerSec,
			GetterSetter: true,
		},
		{
			Name:     "stop",
			Mnemonic: "SK",
			Encode:   encodeSoftStop,
		},
		{
			Name:         "target_distance",
			Mnemonic:     "DI",
			Encode:       encodeInt,
			Pattern:      regexp.MustCompile(`^DI=(?P<value>-?[0-9]+)$`),
			Decode:       decodeInt,
			Unit:         UnitSteps,
			GetterSetter: true,
		},
		// Compound operations, handled by actor methods built from several
		// primitive commands.
		{Name: "continuous_jog", Compound: true},
		{Name: "move_off_limit", Compound: true},
		{Name: "move_to", Unit: UnitSteps, Compound: true},
		{Name: "reset_currents", Compound: true},
		{Name: "retrieve_motor_alarm", Compound: true},
		{Name: "retrieve_motor_status", Compound: true},
		{Name: "set_current", Compound: true},
		{Name: "set_idle_current", Compound: true},
		{Name: "set_position", Unit: UnitSteps, Compound: true},
		{Name: "zero", Unit: UnitSteps, Compound: true},
	}

	table := make(map[string]*CommandSpec, len(specs))
	for _, spec := range specs {
		if spec.Pattern != nil && spec.Pattern.SubexpIndex("value") < 0 {
			panic(fmt.Sprintf("scl: command %q pattern lacks a value capture group", spec.Name))
		}
		table[spec.Name] = spec
	}

	return table
}

// Lookup resolves a command name against the registry.
// It returns ErrUnknownCommand if the name is not registered.
func Lookup(name string) (*CommandSpec, error) {
	spec, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return spec, nil
}

// CommandNames returns the names of all registered commands.
func CommandNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// EncodeCommand renders the full wire payload for spec with the given
// arguments. A non-nil Result is a synthetic outcome that must be returned to
// the caller without touching the wire:
//
//   - a data-bearing command with no encoder invoked with arguments logs the
//     extra arguments and ignores them;
//   - a getter/setter invoked without arguments is treated as a read;
//   - a setter invoked without its required argument yields the synthetic
//     "too few parameters" Nack;
//   - an argument the encoder cannot render yields the synthetic
//     "parameters out of range" Nack.
func EncodeCommand(spec *CommandSpec, log logger.Logger, args ...any) (string, *Result) {
	if spec.Encode == nil {
		if len(args) > 0 {
			log.Error("command requires no arguments to send",
				"command", spec.Name, "num_args", len(args))
		}
		return spec.Mnemonic, nil
	}

	if len(args) == 0 {
		if spec.GetterSetter {
			// command is being used as a getter instead of a setter
			return spec.Mnemonic, nil
		}

		log.Error("command is a setting command, but no arguments were given",
			"command", spec.Name)

		return "", &Result{Status: StatusNack, NackCode: 3}
	}

	arg, err := spec.Encode(args[0])
	if err != nil {
		log.Error("failed to encode command argument",
			"command", spec.Name, "arg", args[0], "error", err)

		return "", &Result{Status: StatusNack, NackCode: 5}
	}

	return spec.Mnemonic + arg, nil
}
