package pypi

// popular is a list of heavily-downloaded PyPI package names used as
// typosquat targets.
var popular = []string{
	"aiohttp",
	"beautifulsoup4",
	"boto3",
	"botocore",
	"certifi",
	"charset-normalizer",
	"click",
	"cryptography",
	"django",
	"fastapi",
	"flask",
	"idna",
	"jinja2",
	"matplotlib",
	"numpy",
	"packaging",
	"pandas",
	"pillow",
	"pip",
	"psycopg2",
	"pydantic",
	"pytest",
	"python-dateutil",
	"pytz",
	"pyyaml",
	"requests",
	"scikit-learn",
	"scipy",
	"setuptools",
	"six",
	"sqlalchemy",
	"tensorflow",
	"torch",
	"tqdm",
	"typing-extensions",
	"urllib3",
	"wheel",
}

// PopularPackages implements ecosystem.Handler.
func (*Handler) PopularPackages() []string { return popular }
