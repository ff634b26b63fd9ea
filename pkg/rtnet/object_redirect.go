package rtnet

import (
	"sync"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

// ObjectRedirect rewrites remote object references returned by a registry so that
// they point at a local method-call proxy instead of the real object endpoint. One
// nested proxy is started per reference found; they are stopped when the pump that
// owns this transform shuts down.
type ObjectRedirect struct {
	logger  rtshare.Logger
	opts    *rtshare.Options
	payload []byte
	marker  []byte

	lock   sync.Mutex
	nested []*ProxyServer
}

// NewObjectRedirect creates a redirecting transform. Nested proxies substitute payload
// for marker in calls made on the redirected objects; with an empty marker they just
// relay.
func NewObjectRedirect(logger rtshare.Logger, opts *rtshare.Options, payload, marker []byte) *ObjectRedirect {
	if opts == nil {
		opts = rtshare.DefaultOptions()
	}
	return &ObjectRedirect{
		logger:  logger.Fork("redirect"),
		opts:    opts,
		payload: payload,
		marker:  marker,
	}
}

// HandleData replaces each UnicastRef/UnicastRef2 block with one that names a freshly
// started nested proxy. References that cannot be redirected are copied unchanged.
func (o *ObjectRedirect) HandleData(data []byte) []byte {
	var out []byte
	last := 0
	for i := 0; i < len(data); i++ {
		if data[i] != jrmp.TCBlockData {
			continue
		}
		ref, ok := jrmp.ParseRemoteRefAt(data, i)
		if !ok {
			continue
		}
		encoded, ok := o.redirect(ref)
		if !ok {
			i = ref.End - 1
			continue
		}
		if out == nil {
			out = make([]byte, 0, len(data)+len(encoded))
		}
		out = append(out, data[last:i]...)
		out = append(out, encoded...)
		last = ref.End
		i = ref.End - 1
	}
	if out == nil {
		return data
	}
	return append(out, data[last:]...)
}

// redirect starts a nested proxy for ref and returns the rewritten reference
func (o *ObjectRedirect) redirect(ref jrmp.RemoteRef) ([]byte, bool) {
	target, err := rtshare.NewEndpoint(ref.Host, int(ref.Port))
	if err != nil {
		o.logger.DLogf("ignoring %s with bad endpoint: %s", ref.TypeName, err)
		return nil, false
	}
	// the loopback name is never longer than a real host; check anyway before starting anything
	if _, ok := ref.Redirected(o.opts.ListenHost, 65535); !ok {
		o.logger.DLogf("cannot redirect %s: block length would overflow", target)
		return nil, false
	}
	p := NewMethodCallProxy(o.logger, o.opts, target, o.payload, o.marker)
	if err := p.Start(); err != nil {
		o.logger.WLogf("unable to start nested proxy for %s: %s", target, err)
		return nil, false
	}
	local, err := p.ListenEndpoint()
	if err != nil {
		p.Stop(true)
		return nil, false
	}
	encoded, ok := ref.Redirected(local.Host(), local.Port())
	if !ok {
		p.Stop(true)
		return nil, false
	}
	o.lock.Lock()
	o.nested = append(o.nested, p)
	o.lock.Unlock()
	o.logger.ILogf("redirected remote object %s to %s", target, local)
	return encoded, true
}

// NestedProxies returns the proxies started so far
func (o *ObjectRedirect) NestedProxies() []*ProxyServer {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]*ProxyServer(nil), o.nested...)
}

// HandleShutdown stops every nested proxy with the pump's force flag
func (o *ObjectRedirect) HandleShutdown(force bool) {
	o.lock.Lock()
	nested := o.nested
	o.nested = nil
	o.lock.Unlock()
	for _, p := range nested {
		p.Stop(force)
	}
}
