// Command matrixcore-demo wires a minimal set of CLI flags into the
// matrixcore engine and logs the observer callbacks it registers (all but
// the presence and backward-pagination ones), the same
// "run it and watch the log" shape main.go gives matterircd itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/42wim/matrixcore/id"
	"github.com/42wim/matrixcore/matrix"
)

func main() {
	flagServer := pflag.String("server", "https://matrix.org", "home server base URL")
	flagUserID := pflag.String("user-id", "", "user ID to authenticate as, e.g. @alice:matrix.org")
	flagAccessToken := pflag.String("access-token", "", "pre-existing access token (skips login/password flow)")
	flagLogin := pflag.String("login", "", "login name, used with --password if --access-token is empty")
	flagPassword := pflag.String("password", "", "password, used with --login if --access-token is empty")
	flagDebug := pflag.Bool("debug", false, "enable debug logging")
	flagTrace := pflag.Bool("trace", false, "enable trace logging")
	pflag.Parse()

	v := viper.New()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "matrixcore-demo: %v\n", err)
		os.Exit(1)
	}

	v.Set("matrix.debug", *flagDebug)
	v.Set("matrix.trace", *flagTrace)

	log := logrus.NewEntry(logrus.StandardLogger())

	obs := &matrix.ClientObserver{
		OnLog: func(message string) { log.Info(message) },
		OnRoomNew: func(room *matrix.Room) {
			log.Infof("joined room %s (%q)", room.ID, room.Name())
		},
		OnRoomDel: func(room *matrix.Room) {
			log.Infof("left room %s", room.ID)
		},
		OnInvite: func(ev *matrix.Event) {
			log.Infof("invited to room %s by %s", ev.RoomID, ev.Sender)
		},
		OnUnknownEvent: func(ev *matrix.Event) {
			log.Debugf("unhandled event type %q", ev.Type)
		},
		OnError: func(err error, kind string, context ...any) {
			log.WithField("kind", kind).Errorf("%v %v", err, context)
		},
	}

	roomObs := &matrix.RoomObserver{
		OnSyncedState: func(room *matrix.Room) {
			log.Infof("room %s state synced, %d members", room.ID, len(room.Forward.Members))
		},
		OnMessage: func(member *matrix.Member, content map[string]interface{}, ev *matrix.Event) {
			log.Infof("[%s] %v: %v", ev.RoomID, member.Displayname, content["body"])
		},
		OnMembership: func(actor, subject *matrix.Member, ev *matrix.Event, changes []matrix.Change) {
			log.Infof("[%s] membership change for %s: %v", ev.RoomID, subject.User.ID, changes)
		},
		OnStateChanged: func(actor *matrix.Member, ev *matrix.Event, changes []matrix.Change) {
			log.Infof("[%s] state changed: %v", ev.RoomID, changes)
		},
	}

	client := matrix.New(v, *flagServer, obs, roomObs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var err error
	if *flagAccessToken != "" {
		err = client.LoginWithToken(ctx, id.UserID(*flagUserID), *flagAccessToken)
	} else {
		err = client.Login(ctx, matrix.Credentials{Login: *flagLogin, Password: *flagPassword})
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "matrixcore-demo: login failed: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	client.Stop()
}
