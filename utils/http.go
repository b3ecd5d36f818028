// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for service-to-service calls (reserve,
// treasury). Transfers are small JSON bodies, so a short timeout is enough.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
