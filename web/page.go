package web

const dashboardPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Audio control</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 2em auto; }
img { max-width: 100%; }
button { margin: 0.2em; }
</style>
</head>
<body>
<div id="track"><p>Nothing is playing.</p></div>
<div id="controls">
<button data-op="pause">Pause</button>
<button data-op="resume">Resume</button>
<button data-op="skip">Skip</button>
<button data-op="stop">Stop</button>
<button data-op="shuffle">Shuffle</button>
<button data-op="repeat">Repeat</button>
<button data-op="stopafter">Stop after</button>
</div>
<script>
const key = new URLSearchParams(location.search).get("key") || "";
const q = "?key=" + encodeURIComponent(key);
const box = document.getElementById("track");

function render(np) {
  box.replaceChildren();
  if (!np) {
    box.innerHTML = "<p>Nothing is playing.</p>";
    return;
  }
  if (np.thumbnail) {
    const img = document.createElement("img");
    img.src = "/audio-control/thumbnail" + q + "&t=" + Date.now();
    box.appendChild(img);
  }
  const h = document.createElement("h2");
  h.textContent = np.title;
  const p = document.createElement("p");
  p.textContent = np.description;
  box.append(h, p);
}

document.querySelectorAll("button[data-op]").forEach(b => {
  b.onclick = () => fetch("/" + b.dataset.op + q);
});

const proto = location.protocol === "https:" ? "wss://" : "ws://";
const ws = new WebSocket(proto + location.host + "/audio-control/ws" + q);
ws.onmessage = ev => render(JSON.parse(ev.data));
ws.onclose = () => { box.innerHTML = "<p>Disconnected.</p>"; };
</script>
</body>
</html>
`
