package review

import "github.com/gosimple/slug"

// Slugify derives a URL slug from a review or policy name.
func Slugify(name string) string {
	return slug.Make(name)
}
