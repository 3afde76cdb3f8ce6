package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tapsource/internal/render"
	"tapsource/internal/source"

	"github.com/go-rod/rod"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// measureJS reports the container's layout and page-space origin, or null
// when the selector matches nothing.
const measureJS = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	const r = el.getBoundingClientRect();
	return {
		offsetX: el.offsetLeft || 0,
		offsetY: el.offsetTop || 0,
		width: r.width,
		height: r.height,
		pageX: r.left + window.scrollX,
		pageY: r.top + window.scrollY,
	};
}`

// hookJS asks the app's own inspector hook for the element at a container
// point. Apps expose it as window.__TAPSOURCE__.getInspectorDataForViewAtPoint.
const hookJS = `(sel, x, y) => new Promise((resolve) => {
	const hook = window.__TAPSOURCE__;
	if (!hook || typeof hook.getInspectorDataForViewAtPoint !== 'function') {
		resolve({ unavailable: true });
		return;
	}
	const container = document.querySelector(sel);
	try {
		hook.getInspectorDataForViewAtPoint(container, x, y, (data) => resolve(data || null));
	} catch (e) {
		resolve({ error: String(e) });
	}
})`

// fiberJS is the DOM fallback: it finds the element under the point, walks
// its React fiber up to the root and serializes the chain with only the
// stamped prop, so the payload stays small.
const fiberJS = `(sel, x, y, prop) => {
	const container = document.querySelector(sel);
	if (!container) return { unavailable: true };
	const origin = container.getBoundingClientRect();
	const el = document.elementFromPoint(origin.left + x, origin.top + y);
	if (!el) return null;
	const key = Object.keys(el).find((k) => k.startsWith('__reactFiber'));
	if (!key) return { unavailable: true };

	const typeInfo = (t) => {
		if (!t) return {};
		if (typeof t === 'string') return { tag: t };
		return { displayName: t.displayName || '', name: t.name || '' };
	};
	const pick = (props) => {
		if (!props || typeof props !== 'object' || !(prop in props)) return undefined;
		return { [prop]: props[prop] };
	};
	const plain = (v) => {
		if (!v || typeof v !== 'object') return v;
		const out = {};
		for (const [k, val] of Object.entries(v)) {
			if (k === 'children') continue;
			const t = typeof val;
			if (val === null || t === 'string' || t === 'number' || t === 'boolean') out[k] = val;
			else if (t === 'function') out[k] = '[Function' + (val.name ? ': ' + val.name : '') + ']';
			else if (Array.isArray(val)) out[k] = '[Array(' + val.length + ')]';
			else out[k] = '[Object]';
		}
		return out;
	};
	const flatStyle = (s) => {
		if (Array.isArray(s)) return Object.assign({}, ...s.map(flatStyle));
		return s && typeof s === 'object' ? s : undefined;
	};

	const chain = [];
	const names = [];
	const seen = new Set();
	let f = el[key];
	const closest = f;
	while (f && !seen.has(f) && chain.length < 512) {
		seen.add(f);
		chain.push({
			memoizedProps: pick(f.memoizedProps),
			pendingProps: pick(f.pendingProps),
			elementType: typeInfo(f.elementType),
			type: typeInfo(f.type),
		});
		const n = (f.elementType && (f.elementType.displayName || f.elementType.name)) ||
			(f.type && (f.type.displayName || f.type.name)) ||
			(typeof f.type === 'string' ? f.type : '');
		if (n) names.unshift({ name: n });
		f = f.return;
	}

	const r = el.getBoundingClientRect();
	const props = closest && closest.memoizedProps;
	return {
		frame: { left: r.left + window.scrollX, top: r.top + window.scrollY, width: r.width, height: r.height },
		props: plain(props),
		style: flatStyle(props && props.style),
		hierarchy: names,
		selectedIndex: names.length - 1,
		chain,
	};
}`

// scriptJS returns the URL the app bundle was loaded from.
const scriptJS = `() => {
	const srcs = Array.from(document.scripts).map((s) => s.src).filter(Boolean);
	return srcs.find((u) => /bundle|entry|main/.test(u)) || srcs[0] || location.href;
}`

// Host exposes a page as the inspector's host: it measures the container and
// provides the hook and DOM hit-test primitives.
type Host struct {
	page     *rod.Page
	propName string
}

// NewHost wraps page. propName is the stamped attribute read by the DOM fallback.
func NewHost(page *rod.Page, propName string) *Host {
	if propName == "" {
		propName = source.DefaultPropName
	}
	return &Host{page: page, propName: propName}
}

// Measure implements render.Measurer.
func (h *Host) Measure(ctx context.Context, container render.Container) (render.Measurement, error) {
	raw, err := h.eval(ctx, measureJS, string(container))
	if err != nil {
		return render.Measurement{}, err
	}
	return decodeMeasurement(raw)
}

// ScriptURL returns the URL of the running bundle.
func (h *Host) ScriptURL(ctx context.Context) (string, error) {
	raw, err := h.eval(ctx, scriptJS)
	if err != nil {
		return "", err
	}
	var u string
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", fmt.Errorf("decode script url: %w", err)
	}
	return u, nil
}

// Primary is the app hook primitive.
func (h *Host) Primary() render.HitTester { return hookTester{h} }

// Secondary is the DOM and fiber walk primitive.
func (h *Host) Secondary() render.HitTester { return fiberTester{h} }

type hookTester struct{ h *Host }

func (t hookTester) HitTest(ctx context.Context, container render.Container, x, y float64, cb func(*render.HitResult)) error {
	raw, err := t.h.eval(ctx, hookJS, string(container), x, y)
	if err != nil {
		return err
	}
	hit, err := decodeHit(raw)
	if err != nil {
		return err
	}
	cb(hit)
	return nil
}

type fiberTester struct{ h *Host }

func (t fiberTester) HitTest(ctx context.Context, container render.Container, x, y float64, cb func(*render.HitResult)) error {
	raw, err := t.h.eval(ctx, fiberJS, string(container), x, y, t.h.propName)
	if err != nil {
		return err
	}
	hit, err := decodeHit(raw)
	if err != nil {
		return err
	}
	cb(hit)
	return nil
}

func (h *Host) eval(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	res, err := h.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate in page: %w", err)
	}
	if res == nil {
		return []byte("null"), nil
	}
	return res.Value.MarshalJSON()
}

func decodeMeasurement(raw []byte) (render.Measurement, error) {
	var m *render.Measurement
	if err := json.Unmarshal(raw, &m); err != nil {
		return render.Measurement{}, fmt.Errorf("decode measurement: %w", err)
	}
	if m == nil {
		return render.Measurement{}, render.ErrNotMeasurable
	}
	return *m, nil
}

// hitPayload is what both page primitives return.
type hitPayload struct {
	Unavailable   bool                    `json:"unavailable"`
	Error         string                  `json:"error"`
	Frame         interface{}             `json:"frame"`
	Props         json.RawMessage         `json:"props"`
	Style         json.RawMessage         `json:"style"`
	Hierarchy     []render.HierarchyEntry `json:"hierarchy"`
	SelectedIndex int                     `json:"selectedIndex"`
	Chain         []*render.Snapshot      `json:"chain"`
}

// decodeHit turns a primitive's JSON reply into a hit result. A null reply is
// a hit with no frame, which the locator discards.
func decodeHit(raw []byte) (*render.HitResult, error) {
	var p *hitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode hit: %w", err)
	}
	if p == nil {
		return &render.HitResult{}, nil
	}
	if p.Unavailable {
		return nil, render.ErrPrimitiveUnavailable
	}
	if p.Error != "" {
		return nil, errors.New("page hook: " + p.Error)
	}

	hit := &render.HitResult{
		Frame:           render.FrameFromValue(p.Frame),
		Hierarchy:       p.Hierarchy,
		SelectedIndex:   p.SelectedIndex,
		ClosestInstance: render.Chain(p.Chain),
	}
	var err error
	if hit.Props, err = orderedValue(p.Props); err != nil {
		return nil, fmt.Errorf("decode props: %w", err)
	}
	if hit.Style, err = orderedValue(p.Style); err != nil {
		return nil, fmt.Errorf("decode style: %w", err)
	}
	return hit, nil
}

// orderedValue decodes a JSON object keeping its key order so the popover
// lists props the way the component declared them. Non-objects decode as-is.
func orderedValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '{' {
		om := orderedmap.New[string, interface{}]()
		if err := json.Unmarshal(raw, om); err != nil {
			return nil, err
		}
		return om, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
