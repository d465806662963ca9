package action

import (
	"fmt"
	"math"

	"github.com/hrygo/caresense/ai/nlu"
)

// AbnormalCategory is the vital sign an alert is about.
type AbnormalCategory string

const (
	AbnormalBloodPressure AbnormalCategory = "blood_pressure"
	AbnormalHeartRate     AbnormalCategory = "heart_rate"
	AbnormalBloodSugar    AbnormalCategory = "blood_sugar"
	AbnormalOxygen        AbnormalCategory = "oxygen"
	AbnormalTemperature   AbnormalCategory = "temperature"
)

// Severity of an abnormal reading.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AbnormalAlert is advisory text for an out-of-range reading. It is not a diagnosis.
type AbnormalAlert struct {
	Category AbnormalCategory `json:"category"`
	Value    string           `json:"value"`
	Severity Severity         `json:"severity"`
	Message  string           `json:"message"`
}

// Critical reports whether any alert is critical.
func Critical(alerts []AbnormalAlert) bool {
	for _, a := range alerts {
		if a.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// DetectAbnormal checks the vital fields of h against fixed thresholds.
// Alerts come out in the order blood pressure, heart rate, blood sugar,
// oxygen, temperature.
func DetectAbnormal(h *nlu.HealthData) []AbnormalAlert {
	if !h.HasVitals() {
		return nil
	}
	var alerts []AbnormalAlert
	for _, check := range []func(*nlu.HealthData) *AbnormalAlert{
		checkBloodPressure, checkHeartRate, checkBloodSugar, checkOxygen, checkTemperature,
	} {
		if a := check(h); a != nil {
			alerts = append(alerts, *a)
		}
	}
	return alerts
}

func checkBloodPressure(h *nlu.HealthData) *AbnormalAlert {
	if h.Systolic == nil && h.Diastolic == nil {
		return nil
	}
	sys, dia := valueOr(h.Systolic, math.NaN()), valueOr(h.Diastolic, math.NaN())
	value := formatPressure(h.Systolic, h.Diastolic)

	switch {
	case sys >= 180 || dia >= 120:
		return &AbnormalAlert{AbnormalBloodPressure, value, SeverityCritical,
			fmt.Sprintf("Blood pressure %s mmHg is very high. Please contact a doctor right away.", value)}
	case sys >= 140 || dia >= 90:
		return &AbnormalAlert{AbnormalBloodPressure, value, SeverityWarning,
			fmt.Sprintf("Blood pressure %s mmHg is above the normal range. Rest and measure again later.", value)}
	case sys < 90 || dia < 60:
		return &AbnormalAlert{AbnormalBloodPressure, value, SeverityWarning,
			fmt.Sprintf("Blood pressure %s mmHg is low. Watch for dizziness and keep hydrated.", value)}
	}
	return nil
}

func checkHeartRate(h *nlu.HealthData) *AbnormalAlert {
	if h.HeartRate == nil {
		return nil
	}
	hr := *h.HeartRate
	value := fmt.Sprintf("%.0f", hr)
	switch {
	case hr > 120 || hr < 40:
		return &AbnormalAlert{AbnormalHeartRate, value, SeverityCritical,
			fmt.Sprintf("Heart rate %s bpm is far outside the normal range. Seek medical help.", value)}
	case hr > 100:
		return &AbnormalAlert{AbnormalHeartRate, value, SeverityWarning,
			fmt.Sprintf("Heart rate %s bpm is elevated. Let them rest and check again.", value)}
	case hr < 50:
		return &AbnormalAlert{AbnormalHeartRate, value, SeverityWarning,
			fmt.Sprintf("Heart rate %s bpm is low. Watch for fatigue or fainting.", value)}
	}
	return nil
}

// checkBloodSugar works in mg/dL; readings of 35 or below are taken as mmol/L.
func checkBloodSugar(h *nlu.HealthData) *AbnormalAlert {
	if h.BloodSugar == nil {
		return nil
	}
	raw := *h.BloodSugar
	mg := raw
	value := fmt.Sprintf("%.0f mg/dL", raw)
	if raw <= 35 {
		mg = raw * 18
		value = fmt.Sprintf("%.1f mmol/L", raw)
	}
	switch {
	case mg >= 300 || mg < 54:
		return &AbnormalAlert{AbnormalBloodSugar, value, SeverityCritical,
			fmt.Sprintf("Blood sugar %s is dangerous. Contact a doctor now.", value)}
	case mg >= 180:
		return &AbnormalAlert{AbnormalBloodSugar, value, SeverityWarning,
			fmt.Sprintf("Blood sugar %s is high. Check diet and medication timing.", value)}
	case mg < 70:
		return &AbnormalAlert{AbnormalBloodSugar, value, SeverityWarning,
			fmt.Sprintf("Blood sugar %s is low. Offer some fast-acting sugar and recheck.", value)}
	}
	return nil
}

func checkOxygen(h *nlu.HealthData) *AbnormalAlert {
	if h.Oxygen == nil {
		return nil
	}
	o2 := *h.Oxygen
	value := fmt.Sprintf("%.0f%%", o2)
	switch {
	case o2 < 90:
		return &AbnormalAlert{AbnormalOxygen, value, SeverityCritical,
			fmt.Sprintf("Oxygen saturation %s is low. Seek medical help immediately.", value)}
	case o2 < 95:
		return &AbnormalAlert{AbnormalOxygen, value, SeverityWarning,
			fmt.Sprintf("Oxygen saturation %s is below normal. Measure again at rest.", value)}
	}
	return nil
}

// checkTemperature works in Celsius; readings above 50 are taken as Fahrenheit.
func checkTemperature(h *nlu.HealthData) *AbnormalAlert {
	if h.Temperature == nil {
		return nil
	}
	c := *h.Temperature
	if c > 50 {
		c = (c - 32) * 5 / 9
	}
	value := fmt.Sprintf("%.1f°C", c)
	switch {
	case c >= 39.5 || c < 35:
		return &AbnormalAlert{AbnormalTemperature, value, SeverityCritical,
			fmt.Sprintf("Body temperature %s needs medical attention.", value)}
	case c >= 38:
		return &AbnormalAlert{AbnormalTemperature, value, SeverityWarning,
			fmt.Sprintf("Body temperature %s indicates a fever. Keep monitoring.", value)}
	}
	return nil
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func formatPressure(sys, dia *float64) string {
	switch {
	case sys != nil && dia != nil:
		return fmt.Sprintf("%.0f/%.0f", *sys, *dia)
	case sys != nil:
		return fmt.Sprintf("%.0f/-", *sys)
	default:
		return fmt.Sprintf("-/%.0f", *dia)
	}
}
