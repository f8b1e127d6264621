package webserver

const indexHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Vision Safe Nav</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/static/style.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Vision Safe Nav</div>
            <span class="badge badge-secondary" id="status-badge">Stopped</span>
        </div>

        <div class="grid">
            <div class="panel" style="grid-row: span 2;">
                <div class="panel-head">
                    <h2>Live Feed</h2>
                    <div class="controls">
                        <button type="button" id="btn-start" class="btn btn-primary">Start</button>
                        <button type="button" id="btn-stop" class="btn">Stop</button>
                    </div>
                </div>
                <div id="video-panel">
                    <img id="stream" alt="Annotated camera feed" hidden>
                    <div id="stream-idle" class="idle">Detection is not running</div>
                </div>
                <p class="footer-note">Red boxes produced a warning, green boxes did not.</p>
            </div>

            <div class="panel">
                <h2>Warnings</h2>
                <p class="panel-subtitle" id="feed-source">via status stream</p>
                <ol class="list" id="warnings"></ol>
            </div>

            <div class="panel">
                <h2>Recent alerts</h2>
                <table class="alerts">
                    <thead><tr><th>Time</th><th>Message</th><th>Duration</th></tr></thead>
                    <tbody id="alerts"></tbody>
                </table>
            </div>
        </div>
    </div>
    <script src="/static/app.js"></script>
</body>
</html>
`
