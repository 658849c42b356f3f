package extraction

const extractionPrompt = `You are reading a screenshot of an infrastructure monitoring dashboard.
Report the current value of every utilisation metric you can read.
When the dashboard shows several hosts or virtual machines, emit one row per host and metric and include the host IP address.
Use these metric keys when they apply: cpu_util, ram_util, disk_util, net_in, net_out.
If a value is not visible, set "value" to null. Never guess a number.
Reply with a single JSON object and nothing else, shaped like:
{
  "metrics": [
    {"ip_address": "10.0.1.11", "key": "cpu_util", "value": 42.5, "unit": "%", "confidence": 0.9}
  ],
  "raw_text": "text you read from the image",
  "confidence": 0.9,
  "status": "ok",
  "capture_time": null
}
Set capture_time to an ISO 8601 timestamp only when the dashboard shows one.`
