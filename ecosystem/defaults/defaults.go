// Package defaults registers the stock ecosystem handlers.
//
// Callers that want the full handler set (which is almost everyone) should
// call [Register] once during setup. Registration is explicit rather than
// driven by import side effects so tests can construct partial registries.
package defaults

import (
	"sync"

	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/ecosystem/npm"
	"github.com/chainlock/chainlock/ecosystem/pypi"
)

var once sync.Once

// Register installs the npm and PyPI handlers. Safe to call repeatedly.
func Register() {
	once.Do(func() {
		ecosystem.Register(&npm.Handler{})
		ecosystem.Register(&pypi.Handler{})
	})
}
