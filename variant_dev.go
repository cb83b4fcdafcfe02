//go:build !prod

package rigscope

import "github.com/sirupsen/logrus"

func openBrowser(url string) {
	// Dev builds run headless next to an editor; just say where to look.
	logrus.WithField("tag", "HttpServer").Infof("dashboard available at %s", url)
}
