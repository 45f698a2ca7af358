package capture

// Probe size names for common camera modes.
const (
	ProbeQVGA  = "qvga"
	ProbeHVGA  = "hvga"
	ProbeVGA   = "vga"
	ProbeWVGA  = "wvga"
	ProbeSVGA  = "svga"
	ProbeQHD   = "qhd"
	Probe720p  = "720p"
	Probe1080p = "1080p"
)

// ProbeSizes returns the named frame sizes a Device tries when asked for
// its supported sizes.
func ProbeSizes() map[string]Size {
	return map[string]Size{
		ProbeQVGA:  {Width: 320, Height: 240},
		ProbeHVGA:  {Width: 480, Height: 320},
		ProbeVGA:   {Width: 640, Height: 480},
		ProbeWVGA:  {Width: 800, Height: 480},
		ProbeSVGA:  {Width: 800, Height: 600},
		ProbeQHD:   {Width: 960, Height: 540},
		Probe720p:  {Width: 1280, Height: 720},
		Probe1080p: {Width: 1920, Height: 1080},
	}
}

// ProbeNames returns the probe names in ascending resolution order.
// Devices report sizes in this order, so the last-wins preview scan lands
// on the largest qualifying mode.
func ProbeNames() []string {
	return []string{
		ProbeQVGA,
		ProbeHVGA,
		ProbeVGA,
		ProbeWVGA,
		ProbeSVGA,
		ProbeQHD,
		Probe720p,
		Probe1080p,
	}
}

// ProbeOrder returns the probe sizes in ProbeNames order.
func ProbeOrder() []Size {
	sizes := ProbeSizes()
	ordered := make([]Size, 0, len(sizes))
	for _, name := range ProbeNames() {
		ordered = append(ordered, sizes[name])
	}
	return ordered
}
