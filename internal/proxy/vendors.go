package proxy

// Vendors lists every supported remote provider in registration order.
func Vendors() []Vendor {
	out := make([]Vendor, 0, len(compatVendors)+5)
	for _, v := range compatVendors {
		out = append(out, v.vendor())
	}
	return append(out,
		claudeVendor(),
		ollamaVendor(),
		sparkVendor(),
		wenxinVendor(),
		zhipuVendor(),
	)
}
