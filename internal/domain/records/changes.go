package records

// ComputeChanges compara la versión nueva contra la anterior usando
// cardinalidades por campo. Es un indicador aproximado para la UI de
// historial; no intenta ser un diff estructural.
func ComputeChanges(next, prev Snapshot) ChangeSummary {
	return ChangeSummary{
		Conditions:    delta(len(next.Conditions), len(prev.Conditions)),
		Allergies:     delta(len(next.Allergies), len(prev.Allergies)),
		Medications:   delta(len(next.Medications), len(prev.Medications)),
		Surgeries:     delta(len(next.Surgeries), len(prev.Surgeries)),
		FamilyHistory: delta(len(next.FamilyHistory), len(prev.FamilyHistory)),
		Immunizations: delta(len(next.Immunizations), len(prev.Immunizations)),

		HabitsChanged:    next.Habits != prev.Habits,
		LifestyleChanged: next.Lifestyle != prev.Lifestyle,
	}
}

func delta(next, prev int) FieldDelta {
	d := FieldDelta{}
	if next > prev {
		d.Added = next - prev
	}
	if prev > next {
		d.Removed = prev - next
	}
	return d
}
