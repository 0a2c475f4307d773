package hostpage

import (
	"html/template"
	"io"
)

// The bundle is injected after window load. Its onload flips scriptReady and
// only then is the widget mounted; a failed load leaves the page empty.
var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <style>html, body { height: 100%; margin: 0; }</style>
  <script src="{{.LibraryPath}}charting_library.standalone.js"></script>
</head>
<body>
  <div id="{{.Container}}" style="height: 100%"></div>
  <script>
  (function () {
    var options = {{.}};
    var datafeedURL = {{.DatafeedURL}};
    var updateFrequency = {{.UpdateFrequencyMS}};
    var scriptReady = false;

    function mount() {
      if (!scriptReady || window.tvWidget) {
        return;
      }
      options.datafeed = new Datafeeds.UDFCompatibleDatafeed(datafeedURL, updateFrequency);
      window.tvWidget = new TradingView.widget(options);
      window.__tvMounted = true;
    }

    window.addEventListener("load", function () {
      var s = document.createElement("script");
      s.src = {{.BundleURL}};
      s.async = true;
      s.onload = function () {
        scriptReady = true;
        window.__tvScriptReady = true;
        mount();
      };
      s.onerror = function () {
        console.error("datafeed bundle failed to load", s.src);
      };
      document.body.appendChild(s);
    });
  })();
  </script>
</body>
</html>
`))

// Render writes the host page for opts.
func Render(w io.Writer, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	return pageTmpl.Execute(w, opts)
}
