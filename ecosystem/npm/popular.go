package npm

// popular is a list of heavily-downloaded npm package names used as
// typosquat targets. Kept small on purpose: edit-distance checks against a
// huge list produce more noise than signal.
var popular = []string{
	"async",
	"axios",
	"babel-core",
	"bluebird",
	"body-parser",
	"chalk",
	"classnames",
	"commander",
	"cross-env",
	"debug",
	"dotenv",
	"eslint",
	"event-stream",
	"express",
	"fs-extra",
	"glob",
	"inquirer",
	"jquery",
	"lodash",
	"minimist",
	"moment",
	"mongoose",
	"node-fetch",
	"prettier",
	"prop-types",
	"react",
	"react-dom",
	"redux",
	"request",
	"rimraf",
	"rxjs",
	"semver",
	"typescript",
	"underscore",
	"uuid",
	"vue",
	"webpack",
	"yargs",
}

// PopularPackages implements ecosystem.Handler.
func (*Handler) PopularPackages() []string { return popular }
