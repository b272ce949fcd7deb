package display

import "math"

type threshold struct {
	below float64
	value string
}

// lookup returns the value of the first threshold v is below, or fallback
func lookup(v float64, table []threshold, fallback string) string {
	for _, t := range table {
		if v < t.below {
			return t.value
		}
	}
	return fallback
}

var temperatureGradients = []threshold{
	{-20, "linear-gradient(135deg, #000033, #000066)"},
	{-10, "linear-gradient(135deg, #001a66, #003399)"},
	{0, "linear-gradient(135deg, #0066cc, #0099cc)"},
	{10, "linear-gradient(135deg, #006600, #009900)"},
	{20, "linear-gradient(135deg, #996600, #cc9900)"},
	{30, "linear-gradient(135deg, #cc6600, #ff8800)"},
}

// TemperatureColor is the label background for a temperature in °C
func TemperatureColor(temp float64) string {
	return lookup(temp, temperatureGradients, "linear-gradient(135deg, #990000, #cc0000)")
}

// TemperatureExtreme returns "hot" above 30 °C, "cold" below -15 °C, otherwise ""
func TemperatureExtreme(temp float64) string {
	switch {
	case temp > 30:
		return "hot"
	case temp < -15:
		return "cold"
	default:
		return ""
	}
}

var humidityGradients = []threshold{
	{30, "linear-gradient(135deg, #FFE4B5 0%, #DEB887 100%)"},
	{50, "linear-gradient(135deg, #87CEEB 0%, #4682B4 100%)"},
	{70, "linear-gradient(135deg, #4682B4 0%, #1E90FF 100%)"},
	{85, "linear-gradient(135deg, #1E90FF 0%, #0000CD 100%)"},
}

// HumidityColor is the label background for relative humidity in %
func HumidityColor(rh float64) string {
	return lookup(rh, humidityGradients, "linear-gradient(135deg, #0000CD 0%, #000080 100%)")
}

var pressureColors = []threshold{
	{990, "#ff4444"},
	{1000, "#ff8844"},
	{1013, "#ffcc44"},
	{1020, "#44ff44"},
}

// PressureColor is the indicator bar colour for a pressure in hPa
func PressureColor(hpa float64) string {
	return lookup(hpa, pressureColors, "#44ccff")
}

var pressureBackgrounds = []threshold{
	{990, "linear-gradient(135deg, #3a1f1f 0%, #2a1515 100%)"},
	{1000, "linear-gradient(135deg, #3a2f1f 0%, #2a1f15 100%)"},
	{1013, "linear-gradient(135deg, #2a2a1f 0%, #1f1f15 100%)"},
	{1020, "linear-gradient(135deg, #1f2a1f 0%, #151f15 100%)"},
}

// PressureBackground is the label background for a pressure in hPa
func PressureBackground(hpa float64) string {
	return lookup(hpa, pressureBackgrounds, "linear-gradient(135deg, #1f1f2a 0%, #15151f 100%)")
}

var windGradients = []threshold{
	{2, "linear-gradient(135deg, #004d00, #006600)"},
	{5, "linear-gradient(135deg, #006600, #00b300)"},
	{10, "linear-gradient(135deg, #b3b300, #e6e600)"},
	{15, "linear-gradient(135deg, #cc6600, #ff8000)"},
	{20, "linear-gradient(135deg, #b30000, #ff0000)"},
	{25, "linear-gradient(135deg, #b300b3, #ff00ff)"},
}

// WindColor is the label background for a wind speed in m/s
func WindColor(speed float64) string {
	return lookup(speed, windGradients, "linear-gradient(135deg, #6600cc, #9933ff)")
}

var windArrowColors = []threshold{
	{2, "#00ff00"},
	{5, "#33ff33"},
	{10, "#ffff00"},
	{15, "#ff9900"},
	{20, "#ff0000"},
	{25, "#ff00ff"},
}

// WindArrowColor is the arrow stroke colour for a wind speed in m/s
func WindArrowColor(speed float64) string {
	return lookup(speed, windArrowColors, "#cc33ff")
}

// WindArrowLength is the arrow length in pixels, growing with speed up to 15 m/s
func WindArrowLength(speed float64) float64 {
	return 10 + math.Min(speed, 15)
}

// CloudIcon describes a cloud cover class
type CloudIcon struct {
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// CloudCover classifies cloud cover given in oktas (0..8)
func CloudCover(oktas float64) CloudIcon {
	percentage := CloudPercentage(oktas)
	switch {
	case percentage <= 25:
		return CloudIcon{Icon: "☀️", Color: "#FFD700", Description: "Selkeä"}
	case percentage <= 75:
		return CloudIcon{Icon: "⛅", Color: "#87CEEB", Description: "Puolipilvinen"}
	default:
		return CloudIcon{Icon: "☁️", Color: "#B0C4DE", Description: "Pilvinen"}
	}
}

// CloudPercentage converts oktas to a percentage of sky covered
func CloudPercentage(oktas float64) float64 {
	return oktas / 8 * 100
}

var cardinals = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Cardinal returns the 8-point compass direction of deg
func Cardinal(deg float64) string {
	d := math.Mod(math.Mod(deg, 360)+360, 360)
	idx := int(math.Floor(d/45+0.5)) % 8
	return cardinals[idx]
}

// StrikeColor colours a lightning strike by age: under 5 minutes red, under 10 orange, older amber
func StrikeColor(ageMinutes float64) string {
	switch {
	case ageMinutes < 5:
		return "#ff0000"
	case ageMinutes < 10:
		return "#ff8800"
	default:
		return "#ffaa00"
	}
}
