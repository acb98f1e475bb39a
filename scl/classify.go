package scl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bapsf-motion/go-scl/logger"
)

// nackPattern extracts the numeric error code of a negative acknowledgement.
// The drive may prefix the reply with an address character digit.
var nackPattern = regexp.MustCompile(`^[0-9]?\?(?P<code>[0-9]{1,2})$`)

// Classify maps a raw reply to the outcome of the command exchange.
//
// Classification order: "%" means the command was acknowledged and executed;
// "*" means it was acknowledged and queued; "?" carries an embedded Nack code
// which is mapped through the fixed message table and logged; a reply that
// omits the echoed mnemonic is malformed; anything else is matched against the
// command's response pattern and the captured payload decoded, tagged with the
// command's unit.
func Classify(spec *CommandSpec, reply string, log logger.Logger) Result {
	switch {
	case strings.Contains(reply, "%"):
		return Result{Status: StatusAck}

	case strings.Contains(reply, "*"):
		return Result{Status: StatusAckQueued}

	case strings.Contains(reply, "?"):
		m := nackPattern.FindStringSubmatch(reply)
		if m == nil {
			log.Error("reply contains a Nack marker but no parsable error code",
				"command", spec.Name, "reply", reply)

			return Result{Status: StatusMalformed}
		}

		code, _ := strconv.Atoi(m[nackPattern.SubexpIndex("code")])
		log.Error("drive returned Nack",
			"command", spec.Name, "code", code, "message", NackMessage(code))

		return Result{Status: StatusNack, NackCode: code}

	case !strings.Contains(reply, spec.Mnemonic):
		log.Error("reply does not echo the command mnemonic",
			"command", spec.Name, "mnemonic", spec.Mnemonic, "reply", reply)

		return Result{Status: StatusMalformed}
	}

	if spec.Pattern == nil {
		// no declared response pattern, hand back the raw reply
		return Result{Status: StatusData, Value: reply, Unit: spec.Unit}
	}

	m := spec.Pattern.FindStringSubmatch(reply)
	if m == nil {
		log.Error("reply does not match the command response pattern",
			"command", spec.Name, "reply", reply)

		return Result{Status: StatusMalformed}
	}

	payload := m[spec.Pattern.SubexpIndex("value")]
	if spec.Decode == nil {
		return Result{Status: StatusData, Value: payload, Unit: spec.Unit}
	}

	value, err := spec.Decode(payload)
	if err != nil {
		log.Error("failed to decode reply payload",
			"command", spec.Name, "payload", payload, "error", err)

		return Result{Status: StatusMalformed}
	}

	return Result{Status: StatusData, Value: value, Unit: spec.Unit}
}
