package main

import "html/template"

const scriptTpl = `
<script>
function post(url, body) {
  var xhr = new XMLHttpRequest();
  xhr.open("POST", url, false);
  xhr.setRequestHeader("Content-Type", "application/json");
  xhr.send(body ? JSON.stringify(body) : null);
  return xhr.status === 200;
}
</script>`

var homeTpl = template.Must(template.New("home").Parse(`<!doctype html>
<html><head><title>Mock Store</title></head><body>
{{ if .SignedIn }}<div id="suggestViewClientComponent">Hi, shopper</div>{{ else }}<a href="/identity/global/signin">Sign in</a>{{ end }}
<ul>{{ range .Products }}<li><a href="/site/{{ . }}">{{ . }}</a></li>{{ end }}</ul>
<a href="/cart">Cart</a>
</body></html>`))

var signInTpl = template.Must(template.New("signin").Parse(`<!doctype html>
<html><head><title>Sign In</title></head><body>
<form method="post" action="/identity/global/signin">
  <input id="fld-e" name="email" type="email" />
  <label><input id="cia-keep-me-signed-in" name="keepMeSignedIn" type="checkbox" /> Keep me signed in</label>
  <div class="cia-form__controls">
    <button type="button" onclick="document.getElementById('pw-step').style.display='block'">Continue</button>
  </div>
  <div id="pw-step" style="display:none">
    <label><input id="password-radio" name="method" type="radio" value="password" /> Use password</label>
    <input id="fld-p1" name="password" type="password" />
    <button type="submit">Sign In</button>
  </div>
</form>
</body></html>`))

var productTpl = template.Must(template.New("product").Parse(`<!doctype html>
<html><head><title>{{ .SKU }}</title>` + scriptTpl + `</head><body>
<h1>{{ .SKU }}</h1>
<button class="add-to-cart-button" {{ if not .Available }}disabled{{ end }} onclick="post('/api/cart/{{ .SKU }}')">Add to Cart</button>
{{ if .Paying }}
<div class="summary-tile">
  <input class="summary-tile__cvv-code-input" name="cvv" />
</div>
<div class="payment__order-summary">
  <button class="btn-primary" onclick="if (post('/api/order', {cvv: document.querySelector('.summary-tile__cvv-code-input').value})) { document.querySelector('.thank-you-enhancement__info').style.display = 'block'; }">Place Your Order</button>
</div>
<div class="thank-you-enhancement__info" style="display:none">Thanks for your order!</div>
{{ end }}
</body></html>`))

var savedTpl = template.Must(template.New("saved").Parse(`<!doctype html>
<html><head><title>Saved Items</title>` + scriptTpl + `</head><body>
<div id="saveditems-recentlyviewed-tabpanel">
  <ul>
  {{ range .Cards }}
    <li class="grid-card">
      <div class="card-title"><a class="clamp" href="{{ .Href }}">{{ .SKU }}</a></div>
      <button class="add-to-cart-button" {{ if not .Available }}disabled{{ end }} onclick="post('/api/cart/{{ .SKU }}')">Add to Cart</button>
    </li>
  {{ end }}
  </ul>
</div>
</body></html>`))

var cartTpl = template.Must(template.New("cart").Parse(`<!doctype html>
<html><head><title>Cart</title>` + scriptTpl + `</head><body>
<div id="cartApp">
  <ul class="item-list">{{ range .Items }}<li>{{ . }}</li>{{ end }}</ul>
  <div class="checkout-buttons__checkout">
    <button class="btn-primary" onclick="post('/api/checkout')">Checkout</button>
  </div>
</div>
</body></html>`))
