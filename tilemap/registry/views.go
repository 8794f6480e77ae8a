package registry

// NameListWithoutCurrentUnsaved lists all names in order, leaving out the
// current name while it has unsaved changes.
func NameListWithoutCurrentUnsaved(s State) []string {
	names := make([]string, 0, len(s.Configs))
	for _, c := range s.Configs {
		if s.Dirty && c.Name == s.Current {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

// HasConfigs reports whether the collection is non-empty.
func HasConfigs(s State) bool {
	return len(s.Configs) > 0
}

// HasCurrentConfig reports whether a current name is set.
func HasCurrentConfig(s State) bool {
	return s.Current != ""
}

// HasCurrentConfigChanges reports the unsaved-changes flag.
func HasCurrentConfigChanges(s State) bool {
	return s.Dirty
}

// CurrentConfig returns the record named by the current name.
func CurrentConfig(s State) (Configuration, bool) {
	if !HasCurrentConfig(s) {
		return Configuration{}, false
	}
	if i := indexOf(s.Configs, s.Current); i >= 0 {
		return s.Configs[i], true
	}
	return Configuration{}, false
}

func indexOf(configs []Configuration, name string) int {
	for i, c := range configs {
		if c.Name == name {
			return i
		}
	}
	return -1
}
