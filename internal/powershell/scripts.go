package powershell

import "strconv"

// TextEnv is the environment variable SAPIScript reads its text from, which
// avoids quoting the text into the script.
const TextEnv = "TTSD_SPEAK_TEXT"

// SAPI PowerShell script for text-to-speech
const SAPIScript = "Add-Type -AssemblyName System.Speech\n" +
	"$synth = New-Object System.Speech.Synthesis.SpeechSynthesizer\n" +
	"\n" +
	"# Set rate if provided (-10 to 10)\n" +
	"if ($rate -ne $null) {\n" +
	"    $synth.Rate = $rate\n" +
	"}\n" +
	"\n" +
	"# Speak the text\n" +
	"$synth.Speak($env:" + TextEnv + ")"

// SAPIRate maps words per minute onto the SAPI -10..10 scale, where 0 is
// roughly 200 wpm.
func SAPIRate(wpm int) int {
	r := (wpm - 200) / 20
	if r < -10 {
		return -10
	}
	if r > 10 {
		return 10
	}
	return r
}

// SAPICommand returns the -Command argument that speaks at the given rate.
func SAPICommand(wpm int) string {
	return "$rate = " + strconv.Itoa(SAPIRate(wpm)) + "; " + SAPIScript
}
