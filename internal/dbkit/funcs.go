package dbkit

import (
	"database/sql/driver"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/rcowham/fossil-go/internal/errs"
)

// CurrentUser is consulted by the fsl_user() SQL function. It is a package
// variable rather than a per-DB field because modernc.org/sqlite's scalar
// function registration is process-global, not connection-scoped.
var CurrentUser = "nobody"

func init() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(sqlite.RegisterDeterministicScalarFunction("now", 0,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC().Format("2006-01-02 15:04:05"), nil
		}))
	must(sqlite.RegisterScalarFunction("fsl_user", 0,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return CurrentUser, nil
		}))
	must(sqlite.RegisterScalarFunction("fsl_dirpart", -1,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			if len(args) < 1 {
				return nil, errs.New(errs.Misuse, "fsl_dirpart requires at least one argument")
			}
			path, _ := args[0].(string)
			keepSlash := len(args) > 1 && asBool(args[1])
			dir := dirpart(path)
			if dir == "" {
				return nil, nil
			}
			if keepSlash {
				return dir + "/", nil
			}
			return dir, nil
		}))
}

// RegisterContentFunction installs fsl_content(), which resolves an rid,
// "rid:N" symbol, or content hash to the uncompressed artifact bytes using
// resolve as the lookup hook. Unlike the deterministic functions in init,
// this one is bound per-DB because it closes over that DB's blob store.
func (d *DB) RegisterContentFunction(resolve func(sym string) ([]byte, error)) error {
	return sqlite.RegisterScalarFunction("fsl_content", 1,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			sym, _ := args[0].(string)
			data, err := resolve(sym)
			if err != nil {
				return nil, err
			}
			return data, nil
		})
}

// RegisterSym2RidFunction installs fsl_sym2rid(), resolving a symbolic name
// to a repository row id using resolve as the lookup hook.
func (d *DB) RegisterSym2RidFunction(resolve func(sym string) (int64, error)) error {
	return sqlite.RegisterScalarFunction("fsl_sym2rid", 1,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			sym, _ := args[0].(string)
			rid, err := resolve(sym)
			if err != nil {
				return nil, err
			}
			return rid, nil
		})
}

// RegisterCkoutDirFunction installs fsl_ckout_dir(), returning the active
// checkout's canonical root directory (trailing slash included) using dir
// as the lookup hook. Bound per-DB once the checkout package knows its
// root, the same way RegisterContentFunction is bound once the blob store
// exists.
func (d *DB) RegisterCkoutDirFunction(dir func() string) error {
	return sqlite.RegisterScalarFunction("fsl_ckout_dir", 0,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return dir(), nil
		})
}

// registerFunctions installs the SQL functions every DB instance needs at
// open time. fsl_content, fsl_sym2rid and fsl_ckout_dir close over state
// (the blob store, the checkout root) that doesn't exist yet this early,
// so repo.wireComponents and checkout.New bind those once they do;
// fsl_match_vfile_or_dir only needs the collation switch, which is already
// live, so it is registered directly here.
func (d *DB) registerFunctions() error {
	return sqlite.RegisterScalarFunction("fsl_match_vfile_or_dir", 2,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			pathname, _ := args[0].(string)
			needle, _ := args[1].(string)
			return matchVfileOrDir(pathname, needle, d.Collation() != ""), nil
		})
}

// matchVfileOrDir reports whether pathname is needle itself or a path
// under the needle/ directory, the same test manage.go's Unmanage and
// Revert apply inline via "pathname=? OR pathname GLOB ?".
func matchVfileOrDir(pathname, needle string, foldCase bool) bool {
	if foldCase {
		pathname = strings.ToLower(pathname)
		needle = strings.ToLower(needle)
	}
	if pathname == needle {
		return true
	}
	return strings.HasPrefix(pathname, needle+"/")
}

func dirpart(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

func asBool(v driver.Value) bool {
	switch x := v.(type) {
	case int64:
		return x != 0
	case bool:
		return x
	case string:
		return x != "" && x != "0"
	default:
		return false
	}
}
