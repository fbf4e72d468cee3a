package postprocess

// mapLabelToTask implements step 10: label→task mapping via the
// configured table, defaulting to "text". An optional classifier
// (spec.md's additive scripting hook) may override the mapped task
// for a single region without touching the default path.
type labelClassifier interface {
	ClassifyTask(label string, score float64) (string, bool)
}

func mapLabelToTask(label string, score float64, mapping map[string]string, classifier labelClassifier) string {
	if classifier != nil {
		if task, ok := classifier.ClassifyTask(label, score); ok {
			return task
		}
	}
	if task, ok := mapping[label]; ok {
		return task
	}
	return "text"
}
