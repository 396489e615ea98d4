package xlat

// hairpinDepthLimit bounds re-entry into stage 1 to a single hop: a
// translated packet that hairpins back never re-hairpins a second time.
const hairpinDepthLimit = 1

// isHairpin reports whether a just-translated IPv4 destination
// belongs to some live BIB entry's IPv4 side, meaning the packet is
// actually destined for another host behind this same translator
// rather than the real IPv4 internet.
func isHairpin(bibUDP, bibTCP, bibICMP *BIBTable, prot Proto, dst Endpoint) (*BIBEntry, bool) {
	var tbl *BIBTable
	switch prot {
	case ProtoUDP:
		tbl = bibUDP
	case ProtoTCP:
		tbl = bibTCP
	case ProtoICMP:
		tbl = bibICMP
	default:
		return nil, false
	}
	return tbl.GetBy4(dst)
}
