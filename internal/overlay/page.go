package overlay

import (
	"html/template"
	"io"
)

// pageSettings is embedded into the page script
type pageSettings struct {
	MaxMessages     int     `json:"maxMessages"`
	MessageDuration int     `json:"messageDuration"`
	ShowBadges      bool    `json:"showBadges"`
	FontSize        int     `json:"fontSize"`
	BgOpacity       float64 `json:"bgOpacity"`
	FeedURL         string  `json:"feedUrl"`
}

var pageTemplate = template.Must(template.New("overlay").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Chat Overlay</title>
  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body { background: transparent !important; overflow: hidden; font-family: 'Segoe UI', 'Roboto', 'Arial', sans-serif; }
    .chat-overlay { width: 100vw; height: 100vh; display: flex; flex-direction: column; justify-content: flex-end; padding: 10px; }
    .chat-messages { display: flex; flex-direction: column; gap: 6px; }
    .chat-message { display: flex; align-items: center; gap: 8px; padding: 8px 12px; border-radius: 6px; transition: opacity 0.5s ease; }
    .chat-message.fading { opacity: 0; }
    .platform-badge { width: 20px; height: 20px; border-radius: 4px; display: flex; align-items: center; justify-content: center; font-size: 12px; font-weight: bold; flex-shrink: 0; }
    .badge-kick { background: #53fc18; color: #000; }
    .badge-twitch { background: #9146FF; color: #fff; }
    .badge-timer { background: #ff7a18; color: #000; }
    .username { font-weight: 700; }
    .username-kick { color: #53fc18; }
    .username-twitch { color: #9146FF; }
    .username-timer { color: #ff7a18; }
    .message-text { color: #ffffff; word-break: break-word; }
  </style>
</head>
<body>
  <div class="chat-overlay">
    <div id="messages" class="chat-messages"></div>
  </div>
  <script>
    const settings = {{.}};
    const list = document.getElementById('messages');
    const badges = { kick: 'K', twitch: 'T', timer: 'S' };

    function addMessage(msg) {
      const row = document.createElement('div');
      row.className = 'chat-message';
      row.style.background = 'rgba(0, 0, 0, ' + settings.bgOpacity + ')';
      row.style.fontSize = settings.fontSize + 'px';

      if (settings.showBadges) {
        const badge = document.createElement('span');
        badge.className = 'platform-badge badge-' + msg.platform;
        badge.textContent = badges[msg.platform] || '?';
        row.appendChild(badge);
      }
      const user = document.createElement('span');
      user.className = 'username username-' + msg.platform;
      user.textContent = msg.username + ':';
      row.appendChild(user);

      const text = document.createElement('span');
      text.className = 'message-text';
      text.textContent = msg.message;
      row.appendChild(text);

      list.appendChild(row);
      while (list.children.length > settings.maxMessages) {
        list.removeChild(list.firstChild);
      }
      if (settings.messageDuration > 0) {
        setTimeout(() => {
          row.classList.add('fading');
          setTimeout(() => row.remove(), 500);
        }, settings.messageDuration * 1000);
      }
    }

    function connect() {
      const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
      const ws = new WebSocket(scheme + location.host + settings.feedUrl);
      ws.onmessage = (e) => addMessage(JSON.parse(e.data));
      ws.onclose = () => setTimeout(connect, 5000);
    }
    connect();
  </script>
</body>
</html>
`))

// RenderPage writes the overlay page for cfg. feedURL is the path of the
// websocket feed the page subscribes to.
func RenderPage(w io.Writer, cfg Config, feedURL string) error {
	return pageTemplate.Execute(w, pageSettings{
		MaxMessages:     cfg.MaxMessages,
		MessageDuration: cfg.MessageDuration,
		ShowBadges:      cfg.ShowBadges,
		FontSize:        cfg.FontSize,
		BgOpacity:       cfg.BgOpacity,
		FeedURL:         feedURL,
	})
}
