package execrunner

import "fmt"

func errCategoryNotConfigured(category string) error {
	return fmt.Errorf("execrunner: category %q not configured", category)
}

func errBreakerOpen(category string) error {
	return fmt.Errorf("execrunner: circuit breaker open for category %q", category)
}
