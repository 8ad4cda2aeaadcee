package ingest

// Precipitation categories derived from radar reflectivity.
const (
	CategoryNone      = "none"
	CategoryLight     = "light"
	CategoryModerate  = "moderate"
	CategoryHeavy     = "heavy"
	CategoryVeryHeavy = "very_heavy"
	CategoryIntense   = "intense"
	CategoryExtreme   = "extreme"
)

// Classify maps a reflectivity value in dBZ to a precipitation category and
// a rendering color from the standard NWS reflectivity palette.
func Classify(dbz float64) (category, color string) {
	switch {
	case dbz < 10:
		return CategoryNone, "#646464"
	case dbz < 20:
		return CategoryLight, "#04E9E7"
	case dbz < 30:
		return CategoryModerate, "#019FF4"
	case dbz < 40:
		return CategoryHeavy, "#02FD02"
	case dbz < 50:
		return CategoryVeryHeavy, "#FD9500"
	case dbz < 60:
		return CategoryIntense, "#FD0000"
	default:
		return CategoryExtreme, "#F800FD"
	}
}
