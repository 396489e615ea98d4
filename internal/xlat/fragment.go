package xlat

// fragmentIPv6 splits an IPv6 payload (the translated L4 header plus
// data, for the first fragment; pure data afterward) into a sequence
// of IPv6 fragments whose total wire size does not exceed mtu.
// header is the common IPv6 base
// header template (Src/Dst/TrafficClass/HopLimit/NextHeader already
// set by the caller); fragID is caller-supplied (translate passes
// the package-wide counter's next value from nextFragID).
//
// The first fragment carries firstHeaderLen bytes of payload that must
// stay together with no splitting in between (e.g. a TCP/UDP header);
// every fragment after it is a plain offset slice of the remainder.
func fragmentIPv6(h IPv6Header, payload []byte, firstHeaderLen, mtu int, fragID uint32) ([][]byte, error) {
	if mtu < ipv6HeaderLen+ipv6FragHeaderLen+8 {
		return nil, ErrFragmentationDF
	}
	maxFragPayload := (mtu - ipv6HeaderLen - ipv6FragHeaderLen) &^ 7
	if maxFragPayload <= 0 {
		return nil, ErrFragmentationDF
	}

	if firstHeaderLen > len(payload) {
		firstHeaderLen = len(payload)
	}

	var frags [][]byte
	offset := 0
	first := true
	for offset < len(payload) {
		budget := maxFragPayload
		chunk := budget
		if first {
			// Keep the transport header intact in fragment 0 even if
			// that means fragment 0 carries less than a full mtu's
			// worth of following data.
			if chunk < firstHeaderLen {
				chunk = firstHeaderLen
			}
		}
		end := offset + chunk
		if end > len(payload) {
			end = len(payload)
		}
		// 8-byte alignment is required for every fragment but the
		// last one.
		if end != len(payload) {
			alignedLen := ((end - offset) &^ 7)
			if alignedLen == 0 {
				return nil, ErrFragmentationDF
			}
			end = offset + alignedLen
		}

		fh := h
		fh.HasFrag = true
		fh.FragID = fragID
		fh.FragOffset = offset / 8
		fh.MoreFragments = end != len(payload)
		frags = append(frags, buildIPv6Header(&fh, payload[offset:end]))

		offset = end
		first = false
	}
	return frags, nil
}
