package gocdp

// JS snippets evaluated via Runtime.callFunctionOn against a resolved
// element object, adapted from the original client library's js.go constants.
const (
	textContentJS = `function() { return this.textContent; }`

	clearValueJS = `function() {
		if ('value' in this) {
			this.value = '';
			this.dispatchEvent(new Event('input', {bubbles: true}));
			this.dispatchEvent(new Event('change', {bubbles: true}));
		}
	}`

	visibleJS = `function() {
		if (!this.isConnected) return false;
		const style = window.getComputedStyle(this);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') {
			return false;
		}
		const r = this.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`

	getClientRectJS = `function() {
		const r = this.getBoundingClientRect();
		return {x: r.left, y: r.top, width: r.width, height: r.height};
	}`
)
