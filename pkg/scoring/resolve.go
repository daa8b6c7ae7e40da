package scoring

import "strings"

// Resolve merges override into global at the leaf level.
//
// Scalar factors in the override replace the global value. Size exclude and
// buckets merge independently. Labels merge by lower-cased name: an override
// rule replaces the global rule of the same name in place, and new names are
// appended in override order. Resolve(global, nil) returns global unchanged.
func Resolve(global Policy, override *Override) Policy {
	if override == nil {
		return global
	}
	p := global

	if override.BaseScore != nil {
		p.BaseScore = *override.BaseScore
	}
	if override.Age != nil {
		p.Age = override.Age
	}
	if override.Approvals != nil {
		p.Approvals = override.Approvals
	}
	if override.PreviouslyReviewed != nil {
		p.PreviouslyReviewed = override.PreviouslyReviewed
	}
	if override.Size != nil {
		p.Size = mergeSize(global.Size, override.Size)
	}
	if override.Labels != nil {
		p.Labels = mergeLabels(global.Labels, override.Labels)
	}
	return p
}

func mergeSize(global *SizePolicy, o *SizeOverride) *SizePolicy {
	merged := &SizePolicy{}
	if global != nil {
		merged.Exclude = global.Exclude
		merged.Buckets = global.Buckets
	}
	if o.Exclude != nil {
		merged.Exclude = o.Exclude
	}
	if o.Buckets != nil {
		merged.Buckets = o.Buckets
	}
	return merged
}

func mergeLabels(global, override []LabelRule) []LabelRule {
	merged := make([]LabelRule, len(global), len(global)+len(override))
	copy(merged, global)

	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[strings.ToLower(r.Name)] = i
	}
	for _, r := range override {
		key := strings.ToLower(r.Name)
		if i, ok := index[key]; ok {
			merged[i].Effect = r.Effect
			continue
		}
		index[key] = len(merged)
		merged = append(merged, r)
	}
	return merged
}
