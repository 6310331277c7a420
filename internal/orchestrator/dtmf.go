package orchestrator

import "strings"

// dtmfCollector accumulates keypad digits into a callback phone number for
// the degraded-ASR path. A `#` terminates entry early; otherwise collection
// stops once enough digits have been entered for a callable number.
type dtmfCollector struct {
	digits strings.Builder
}

// minCallbackDigits is the digit count at which a plain entry (no '#') is
// treated as a complete callback number. Ten digits covers a full NANP
// number; shorter numbers need the '#' terminator.
const minCallbackDigits = 10

// maxCallbackDigits bounds collection so a caller who never hangs up and
// never presses # doesn't grow this without limit.
const maxCallbackDigits = 15

// Add appends one DTMF digit and reports whether collection is complete
// (either a '#' terminator was pressed, with at least one digit collected,
// or the digit count reached maxCallbackDigits).
func (d *dtmfCollector) Add(digit string) (complete bool) {
	if digit == "#" {
		return d.digits.Len() >= 1
	}
	if digit >= "0" && digit <= "9" {
		d.digits.WriteString(digit)
	}
	return d.digits.Len() >= maxCallbackDigits
}

// Done reports whether enough digits have been collected to treat the
// number as usable, even if the caller never pressed '#'.
func (d *dtmfCollector) Done() bool {
	return d.digits.Len() >= minCallbackDigits
}

// Phone returns the digits collected so far.
func (d *dtmfCollector) Phone() string {
	return d.digits.String()
}
