package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const DefaultScriptURL = "https://checkout.razorpay.com/v1/checkout.js"

// Browser serves a local page that loads the hosted checkout script with the
// order parameters. The script's success handler posts to /callback and its
// dismiss handler posts to /dismiss.
type Browser struct {
	ScriptURL string
	// Addr defaults to an ephemeral loopback port.
	Addr string
	// Launch is given the page URL and the order it serves, typically to open
	// a browser. When nil the URL is only logged.
	Launch func(url string, opts Options) error
	Logger *zap.Logger
}

type outcome struct {
	result Result
	err    error
}

func (b *Browser) Open(ctx context.Context, opts Options) (Result, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := b.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("checkout listener: %w", err)
	}

	done := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}
	srv := &http.Server{Handler: b.router(opts, finish), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			finish(outcome{err: fmt.Errorf("checkout server: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	pageURL := "http://" + ln.Addr().String() + "/"
	logger.Info("checkout page ready", zap.String("url", pageURL), zap.String("order_id", opts.OrderID))
	if b.Launch != nil {
		if err := b.Launch(pageURL, opts); err != nil {
			logger.Warn("launch checkout page", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case o := <-done:
		return o.result, o.err
	}
}

func (b *Browser) router(opts Options, finish func(outcome)) http.Handler {
	scriptURL := b.ScriptURL
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		optsJSON, err := json.Marshal(opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = pageTemplate.Execute(w, pageData{
			ScriptURL:   scriptURL,
			Options:     template.JS(optsJSON),
			ThemeColor:  opts.ThemeColor,
			Description: opts.Description,
		})
	})
	r.Post("/callback", func(w http.ResponseWriter, req *http.Request) {
		var res Result
		if err := json.NewDecoder(req.Body).Decode(&res); err != nil {
			http.Error(w, "invalid callback body", http.StatusBadRequest)
			return
		}
		if res.PaymentID == "" || res.OrderID == "" {
			http.Error(w, "payment and order ids are required", http.StatusBadRequest)
			return
		}
		finish(outcome{result: res})
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/dismiss", func(w http.ResponseWriter, _ *http.Request) {
		finish(outcome{err: ErrDismissed})
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

type pageData struct {
	ScriptURL   string
	Options     template.JS
	ThemeColor  string
	Description string
}

var pageTemplate = template.Must(template.New("checkout").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>FreshChain checkout</title></head>
<body>
<p>{{.Description}}</p>
<p id="status">Opening checkout...</p>
<script src="{{.ScriptURL}}"></script>
<script>
const options = {{.Options}};
options.theme = { color: {{.ThemeColor}} };
function post(path, body) {
  return fetch(path, { method: "POST", headers: { "Content-Type": "application/json" }, body: JSON.stringify(body || {}) });
}
options.handler = function (resp) {
  post("/callback", resp).then(function () { document.getElementById("status").textContent = "Payment received. You can close this tab."; });
};
options.modal = { ondismiss: function () {
  post("/dismiss").then(function () { document.getElementById("status").textContent = "Payment cancelled. You can close this tab."; });
} };
new Razorpay(options).open();
</script>
</body>
</html>
`))
