package careprogram

import "fmt"

// Monthly thresholds for the RPM and CCM code families.
const (
	MinDataDays             = 16
	BaseManagementMinutes   = 20
	IncrementMinutes        = 20
	MinChronicConditions    = 2
	ComplexPhysicianMinutes = 30
)

// Billing codes in the order they are reported.
const (
	Code99453 = "99453"
	Code99454 = "99454"
	Code99457 = "99457"
	Code99458 = "99458"
	Code99490 = "99490"
	Code99439 = "99439"
	Code99491 = "99491"
)

// IncrementUnits returns the number of full additional 20-minute blocks
// beyond the first 20 minutes. 20 and 39 give 0, 40 gives 1.
func IncrementUnits(totalMinutes int) int {
	if totalMinutes < BaseManagementMinutes {
		return 0
	}
	return (totalMinutes - BaseManagementMinutes) / IncrementMinutes
}

// EvaluateRPM computes RPM eligibility. Either record may be nil, which
// reads as no consent, no setup and no activity.
func EvaluateRPM(enr *ProgramEnrollment, act *MonthlyActivity) RPMEligibility {
	res := RPMEligibility{Reasons: []string{}}

	if enr == nil || enr.ConsentAt == nil {
		res.Reasons = append(res.Reasons, "RPM consent missing")
	}
	if enr != nil && enr.SetupCompletedAt != nil {
		res.Eligible99453 = true
	} else {
		res.Reasons = append(res.Reasons, "RPM setup not completed")
	}

	res.DataDayCount = act.DataDayCount()
	res.Eligible99454 = res.DataDayCount >= MinDataDays
	if !res.Eligible99454 {
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("fewer than %d data days (%d recorded)", MinDataDays, res.DataDayCount))
	}

	res.TotalManagementMinutes = act.TotalMinutes()
	res.Eligible99457 = res.TotalManagementMinutes >= BaseManagementMinutes
	if !res.Eligible99457 {
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("less than %d minutes RPM management (%d logged)", BaseManagementMinutes, res.TotalManagementMinutes))
	}
	res.Eligible99458Units = IncrementUnits(res.TotalManagementMinutes)

	return res
}

// EvaluateCCM computes CCM eligibility. 99490 needs both the minimum
// condition count and the 20-minute threshold; 99439 is an add-on and is
// only counted when 99490 is earned. Consent is advisory. 99491 depends on
// physician minutes alone.
func EvaluateCCM(enr *ProgramEnrollment, act *MonthlyActivity) CCMEligibility {
	res := CCMEligibility{Reasons: []string{}}

	res.ConditionCount = enr.ConditionCount()
	enoughConditions := res.ConditionCount >= MinChronicConditions
	if !enoughConditions {
		res.Reasons = append(res.Reasons, fmt.Sprintf("fewer than %d chronic conditions", MinChronicConditions))
	}
	if enr == nil || enr.ConsentAt == nil {
		res.Reasons = append(res.Reasons, "CCM consent missing")
	}

	res.TotalManagementMinutes = act.TotalMinutes()
	enoughMinutes := res.TotalManagementMinutes >= BaseManagementMinutes
	if !enoughMinutes {
		res.Reasons = append(res.Reasons, fmt.Sprintf("less than %d minutes CCM management", BaseManagementMinutes))
	}

	res.Eligible99490 = enoughConditions && enoughMinutes
	if res.Eligible99490 {
		res.Eligible99439Units = IncrementUnits(res.TotalManagementMinutes)
	}

	if act != nil {
		res.PhysicianMinutes = act.PhysicianMinutes
	}
	res.Eligible99491 = res.PhysicianMinutes >= ComplexPhysicianMinutes

	return res
}

// ComposeCodes merges both program outcomes into the ordered code list.
func ComposeCodes(rpm RPMEligibility, ccm CCMEligibility) []BillingCode {
	codes := []BillingCode{}
	if rpm.Eligible99453 {
		codes = append(codes, BillingCode{Code: Code99453})
	}
	if rpm.Eligible99454 {
		codes = append(codes, BillingCode{Code: Code99454})
	}
	if rpm.Eligible99457 {
		codes = append(codes, BillingCode{Code: Code99457})
	}
	if rpm.Eligible99458Units > 0 {
		codes = append(codes, withUnits(Code99458, rpm.Eligible99458Units))
	}
	if ccm.Eligible99490 {
		codes = append(codes, BillingCode{Code: Code99490})
	}
	if ccm.Eligible99439Units > 0 {
		codes = append(codes, withUnits(Code99439, ccm.Eligible99439Units))
	}
	if ccm.Eligible99491 {
		codes = append(codes, BillingCode{Code: Code99491})
	}
	return codes
}

func withUnits(code string, units int) BillingCode {
	u := units
	return BillingCode{Code: code, Units: &u}
}
