package middleware

import (
	"os"
	"path/filepath"
	"strings"

	"ragchat/app/api"

	"github.com/gofiber/fiber/v2"
)

// PlugLetters serves corpus PDFs from dir for citation links such as /letters/1992.pdf.
// Only plain file names are accepted; anything that could leave dir is a 404.
func PlugLetters(dir string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("file")

		if !validLetterName(name) {
			return api.ErrNotFound(name, "letter")
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return api.ErrNotFound(name, "letter")
		}

		c.Set(fiber.HeaderContentDisposition, `inline; filename="`+name+`"`)
		c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
		return c.SendFile(path)
	}
}

func validLetterName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
