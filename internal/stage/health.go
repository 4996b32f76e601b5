package stage

import "strings"

// Health summarizes the readiness of the executor and its collaborators.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Combine folds component checks into one record named name. It is ready only
// when every part is ready.
func Combine(name string, parts ...Health) Health {
	var problems []string
	for _, part := range parts {
		if !part.Ready {
			problems = append(problems, part.Name+": "+part.Detail)
		}
	}
	if len(problems) == 0 {
		return Healthy(name)
	}
	return Unhealthy(name, strings.Join(problems, "; "))
}
