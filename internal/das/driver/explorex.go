package driver

// Vendor codes for exapi_set_params.
const (
	aomCode80  = 0
	aomCode200 = 1
)

func aomCode(mhz int) int {
	if mhz == 200 {
		return aomCode200
	}
	return aomCode80
}

// streamSlot indexes the four vendor data callbacks.
func streamSlot(channel int, s Stream) int {
	slot := 0
	if s == StreamPhase {
		slot = 1
	}
	if channel == 2 {
		slot += 2
	}
	return slot
}
