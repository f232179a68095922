package params

import (
	"math"
	"strings"
	"unicode"
)

// FieldID identifies a structural parameter in compact camelCase form
type FieldID string

// Group is a named section of the parameter form
type Group string

const (
	GroupDimensions   Group = "bridge dimensions"
	GroupCrossSection Group = "cross-section properties"
	GroupStructure    Group = "structure properties"
	GroupMaterial     Group = "material properties"
	GroupAnalysis     Group = "analysis parameters"
	GroupEnergy       Group = "energy parameters"
)

const (
	BridgeLength        FieldID = "bridgeLength"
	BridgeWidth         FieldID = "bridgeWidth"
	BridgeHeight        FieldID = "bridgeHeight"
	SupportDistance     FieldID = "supportDistance"
	SpaghettiDiameter   FieldID = "spaghettiDiameter"
	StrandsPerMember    FieldID = "strandsPerMember"
	CrossSectionArea    FieldID = "crossSectionArea"
	MomentOfInertia     FieldID = "momentOfInertia"
	NumberOfPanels      FieldID = "numberOfPanels"
	InclinationAngle    FieldID = "inclinationAngle"
	DeclinationAngle    FieldID = "declinationAngle"
	JointStrength       FieldID = "jointStrength"
	YoungsModulus       FieldID = "youngsModulus"
	TensileStrength     FieldID = "tensileStrength"
	CompressiveStrength FieldID = "compressiveStrength"
	Density             FieldID = "density"
	LoadPosition        FieldID = "loadPosition"
	MeshDensity         FieldID = "meshDensity"
	SafetyFactor        FieldID = "safetyFactor"
	BridgeMass          FieldID = "bridgeMass"
	StrainEnergy        FieldID = "strainEnergy"
	KineticEnergy       FieldID = "kineticEnergy"
	PotentialEnergy     FieldID = "potentialEnergy"
	DampingRatio        FieldID = "dampingRatio"
)

// Field describes one input of the parameter form
type Field struct {
	ID      FieldID `json:"id"`
	Label   string  `json:"label"`
	Group   Group   `json:"group"`
	Unit    string  `json:"unit,omitempty"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// InRange reports whether v lies inside the inclusive [Min, Max] bounds
func (f Field) InRange(v float64) bool {
	return v >= f.Min && v <= f.Max
}

// Clamp limits v to the field bounds. Used for slider stepping only; the
// store accepts out-of-range values as typed.
func (f Field) Clamp(v float64) float64 {
	return math.Max(f.Min, math.Min(f.Max, v))
}

var table = []Field{
	{ID: BridgeLength, Group: GroupDimensions, Unit: "cm", Min: 10, Max: 100, Step: 1, Default: 50},
	{ID: BridgeWidth, Group: GroupDimensions, Unit: "cm", Min: 5, Max: 50, Step: 1, Default: 25},
	{ID: BridgeHeight, Group: GroupDimensions, Unit: "cm", Min: 2, Max: 40, Step: 0.5, Default: 12},
	{ID: SupportDistance, Group: GroupDimensions, Unit: "cm", Min: 10, Max: 100, Step: 1, Default: 60},

	{ID: SpaghettiDiameter, Group: GroupCrossSection, Unit: "mm", Min: 1, Max: 3, Step: 0.05, Default: 1.8},
	{ID: StrandsPerMember, Group: GroupCrossSection, Unit: "count", Min: 1, Max: 20, Step: 1, Default: 6},
	{ID: CrossSectionArea, Group: GroupCrossSection, Unit: "mm²", Min: 0.5, Max: 60, Step: 0.1, Default: 15.3},
	{ID: MomentOfInertia, Group: GroupCrossSection, Unit: "mm⁴", Min: 0.1, Max: 300, Step: 0.1, Default: 18.6},

	{ID: NumberOfPanels, Group: GroupStructure, Unit: "count", Min: 2, Max: 20, Step: 1, Default: 8},
	{ID: InclinationAngle, Group: GroupStructure, Unit: "°", Min: 0, Max: 90, Step: 0.5, Default: 45},
	{ID: DeclinationAngle, Group: GroupStructure, Unit: "°", Min: 0, Max: 90, Step: 0.5, Default: 30},
	{ID: JointStrength, Group: GroupStructure, Unit: "%", Min: 0, Max: 100, Step: 1, Default: 10},

	{ID: YoungsModulus, Group: GroupMaterial, Unit: "GPa", Min: 1, Max: 10, Step: 0.1, Default: 3.5},
	{ID: TensileStrength, Group: GroupMaterial, Unit: "MPa", Min: 10, Max: 100, Step: 1, Default: 43},
	{ID: CompressiveStrength, Group: GroupMaterial, Unit: "MPa", Min: 5, Max: 60, Step: 1, Default: 20},
	{ID: Density, Group: GroupMaterial, Unit: "g/cm³", Min: 1, Max: 2, Step: 0.01, Default: 1.5},

	{ID: LoadPosition, Group: GroupAnalysis, Unit: "ratio", Min: 0, Max: 1, Step: 0.05, Default: 0.5},
	{ID: MeshDensity, Group: GroupAnalysis, Unit: "elements", Min: 10, Max: 500, Step: 10, Default: 100},
	{ID: SafetyFactor, Group: GroupAnalysis, Min: 1, Max: 3, Step: 0.1, Default: 1.5},
	{ID: BridgeMass, Group: GroupAnalysis, Unit: "g", Min: 10, Max: 1000, Step: 1, Default: 250},

	{ID: StrainEnergy, Group: GroupEnergy, Unit: "J", Min: 0, Max: 50, Step: 0.1, Default: 5},
	{ID: KineticEnergy, Group: GroupEnergy, Unit: "J", Min: 0, Max: 20, Step: 0.1, Default: 0},
	{ID: PotentialEnergy, Group: GroupEnergy, Unit: "J", Min: 0, Max: 50, Step: 0.1, Default: 10},
	{ID: DampingRatio, Group: GroupEnergy, Min: 0, Max: 0.2, Step: 0.01, Default: 0.05},
}

var index = make(map[FieldID]int, len(table))

func init() {
	for i := range table {
		table[i].Label = Label(table[i].ID)
		index[table[i].ID] = i
	}
}

// Fields returns a copy of the field table in form order
func Fields() []Field {
	out := make([]Field, len(table))
	copy(out, table)
	return out
}

// IDs returns every field identifier in form order
func IDs() []FieldID {
	out := make([]FieldID, len(table))
	for i, f := range table {
		out[i] = f.ID
	}
	return out
}

// Lookup returns the field with the given identifier
func Lookup(id FieldID) (Field, bool) {
	i, ok := index[id]
	if !ok {
		return Field{}, false
	}
	return table[i], true
}

// Groups returns the group names in form order
func Groups() []Group {
	return []Group{GroupDimensions, GroupCrossSection, GroupStructure, GroupMaterial, GroupAnalysis, GroupEnergy}
}

// Label converts a compact identifier into a spaced, capitalised label,
// e.g. "bridgeWidth" -> "Bridge Width".
func Label(id FieldID) string {
	s := string(id)
	if s == "" {
		return ""
	}

	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		prev := runes[i-1]
		if unicode.IsUpper(r) && !unicode.IsUpper(prev) {
			b.WriteByte(' ')
		} else if unicode.IsDigit(r) && !unicode.IsDigit(prev) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
