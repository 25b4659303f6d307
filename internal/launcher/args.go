// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package launcher

// Input describes one ffmpeg invocation.
type Input struct {
	FFmpegBin      string
	ProxychainsBin string
	// ProxyConf, when set, wraps ffmpeg in proxychains4 -f ProxyConf.
	ProxyConf string
	VideoPath string
	RTMPURL   string
	Transcode bool
}

// Command is a resolved argv.
type Command struct {
	Path string
	Args []string
}

// Argv returns Path followed by Args.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// BuildArgs assembles the loop-forever realtime push of VideoPath to RTMPURL,
// either stream-copied or re-encoded to H.264/AAC.
func BuildArgs(in Input) Command {
	ffmpeg := in.FFmpegBin
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	args := []string{
		"-loglevel", "warning",
		"-hide_banner",
		"-stream_loop", "-1",
		"-re",
		"-i", in.VideoPath,
	}
	if in.Transcode {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-b:v", "1000k",
			"-maxrate", "1000k",
			"-bufsize", "2000k",
			"-c:a", "aac",
			"-b:a", "128k",
		)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-f", "flv", in.RTMPURL)

	if in.ProxyConf == "" {
		return Command{Path: ffmpeg, Args: args}
	}

	wrapper := in.ProxychainsBin
	if wrapper == "" {
		wrapper = "proxychains4"
	}
	return Command{
		Path: wrapper,
		Args: append([]string{"-f", in.ProxyConf, ffmpeg}, args...),
	}
}
